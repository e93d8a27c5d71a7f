package compiler

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
)

// SymbolID is the stable primary key for an indexed symbol, a deterministic
// hash of the declaration's export id. Stable across runs as long as the
// exported path is stable.
type SymbolID uint64

// SymbolKind classifies declarations.
type SymbolKind uint8

const (
	SymFunc SymbolKind = iota
	SymClass
	SymInterface
	SymEnum
	SymStruct
	SymExtend
	SymVariable
	SymMember
	SymEnumCtor
	SymParam
	SymPackage
)

func (k SymbolKind) String() string {
	switch k {
	case SymFunc:
		return "function"
	case SymClass:
		return "class"
	case SymInterface:
		return "interface"
	case SymEnum:
		return "enum"
	case SymStruct:
		return "struct"
	case SymExtend:
		return "extend"
	case SymVariable:
		return "variable"
	case SymMember:
		return "member"
	case SymEnumCtor:
		return "enum_constructor"
	case SymParam:
		return "parameter"
	case SymPackage:
		return "package"
	default:
		return "unknown"
	}
}

// Symbol is one resolved declaration.
type Symbol struct {
	ID         SymbolID
	Kind       SymbolKind
	Name       string
	Package    string
	Module     string
	Container  string // enclosing type name for members, "" at top level
	File       string
	Node       NodeID
	DeclRange  Range
	SelRange   Range
	TypeName   string // annotated or inferred type
	Signature  string // rendered signature for funcs
	Modifiers  []string
	Doc        string
	Deprecated bool
	// Exported reports public visibility outside the package.
	Exported bool
	// Synthesized marks compiler-generated symbols, filtered by navigation
	// unless they are annotation refs or cloned source.
	Synthesized bool
}

// ExportID renders the stable exported path the symbol id is hashed from.
func (s *Symbol) ExportID() string {
	var b strings.Builder
	b.WriteString(s.Package)
	b.WriteByte(':')
	if s.Container != "" {
		b.WriteString(s.Container)
		b.WriteByte('.')
	}
	b.WriteString(s.Name)
	if s.Kind == SymFunc || s.Kind == SymMember {
		b.WriteByte('#')
		b.WriteString(s.Signature)
	}
	return b.String()
}

// HashExportID derives the stable symbol id from an export id string.
func HashExportID(exportID string) SymbolID {
	sum := sha256.Sum256([]byte(exportID))
	return SymbolID(binary.BigEndian.Uint64(sum[:8]))
}

// HasModifier reports whether the symbol carries the modifier.
func (s *Symbol) HasModifier(mod string) bool {
	for _, m := range s.Modifiers {
		if m == mod {
			return true
		}
	}
	return false
}

// RelationKind is a directed, kinded edge between two symbols.
type RelationKind uint8

const (
	RelBaseOf RelationKind = iota
	RelExtends
	RelImplements
	RelOverriddenBy
	RelCalls
)

func (k RelationKind) String() string {
	switch k {
	case RelBaseOf:
		return "base_of"
	case RelExtends:
		return "extends"
	case RelImplements:
		return "implements"
	case RelOverriddenBy:
		return "overridden_by"
	case RelCalls:
		return "calls"
	default:
		return fmt.Sprintf("relation(%d)", k)
	}
}

// Relation is one edge. OVERRIDES is never stored: queries synthesize it from
// the stored OVERRIDDEN_BY row.
type Relation struct {
	Subject   SymbolID
	Predicate RelationKind
	Object    SymbolID
}

// ReferenceKind classifies use sites.
type ReferenceKind uint8

const (
	RefRead ReferenceKind = iota
	RefWrite
	RefCall
	RefDecl
	RefSuper
)

func (k ReferenceKind) String() string {
	switch k {
	case RefRead:
		return "read"
	case RefWrite:
		return "write"
	case RefCall:
		return "call"
	case RefDecl:
		return "decl"
	case RefSuper:
		return "super"
	default:
		return "unknown"
	}
}

// Reference is one use site of a symbol.
type Reference struct {
	Symbol    SymbolID
	Kind      ReferenceKind
	File      string
	Range     Range
	Container SymbolID // enclosing declaration's symbol, 0 at file scope
	IsSuper   bool
}
