package index

import (
	"database/sql"
	"fmt"
	"strings"

	"cjls/internal/compiler"
)

// multiInsertChunk bounds how many rows ride in one multi-row INSERT,
// amortizing statement overhead without exceeding parameter limits.
const multiInsertChunk = 100

// SymbolRow mirrors the symbols table.
type SymbolRow struct {
	ID              int64
	Kind            string
	SubKind         string
	Lang            string
	Flags           int64
	Name            string
	Scope           string
	Package         string
	DeclFile        string
	DeclRange       compiler.Range
	DefFile         string
	DefRange        compiler.Range
	Signature       string
	ReturnType      string
	Type            string
	Modifier        string
	IsDeprecated    bool
	SysCap          string
	ContainerModule string
	MacroCallFile   string
	MacroCallLine   int
	MacroCallCol    int
}

// RefRow mirrors the refs table.
type RefRow struct {
	SymbolID    int64
	Kind        string
	File        string
	Range       compiler.Range
	ContainerID int64
	IsCjo       bool
	IsSuper     bool
}

// RelationRow mirrors the relations table.
type RelationRow struct {
	SubjectID int64
	Predicate string
	ObjectID  int64
}

// CompletionRow mirrors the completions table.
type CompletionRow struct {
	SymbolID   int64
	Label      string
	InsertText string
}

// CommentRow mirrors the comments table.
type CommentRow struct {
	SymbolID int64
	Style    string
	Kind     string
	Text     string
}

// ExtendRow mirrors the extends table.
type ExtendRow struct {
	ExtendID      int64
	TargetID      int64
	Modifier      string
	InterfaceName string
	PkgName       string
}

// CrossSymbolRow mirrors the cross_symbols table.
type CrossSymbolRow struct {
	Pkg           string
	ID            int64
	Name          string
	ContainerID   int64
	ContainerName string
	Type          string
	File          string
	Range         compiler.Range
	Declaration   string
}

// FileRow mirrors the files table.
type FileRow struct {
	FileID  int64
	Path    string
	Digest  string
	Package string
	Module  string
}

// SID converts a compiler symbol id to its storage representation.
func SID(id compiler.SymbolID) int64 { return int64(id) }

// DBUpdate is the handle passed to Update callbacks. All writes ride the
// enclosing transaction.
type DBUpdate struct {
	tx *sql.Tx
}

// InsertFile upserts one file row.
func (u *DBUpdate) InsertFile(row FileRow) error {
	_, err := u.tx.Exec(
		`INSERT INTO files (path, digest, package, module) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET digest=excluded.digest, package=excluded.package, module=excluded.module`,
		row.Path, row.Digest, row.Package, row.Module)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", row.Path, err)
	}
	return nil
}

// DeleteFile removes the file row and every row keyed to the file.
func (u *DBUpdate) DeleteFile(path string) error {
	stmts := []string{
		`DELETE FROM refs WHERE file = ?`,
		`DELETE FROM completions WHERE symbol_id IN (SELECT id FROM symbols WHERE decl_file = ?)`,
		`DELETE FROM comments WHERE symbol_id IN (SELECT id FROM symbols WHERE decl_file = ?)`,
		`DELETE FROM relations WHERE subject_id IN (SELECT id FROM symbols WHERE decl_file = ?)
			OR object_id IN (SELECT id FROM symbols WHERE decl_file = ?)`,
		`DELETE FROM symbols WHERE decl_file = ?`,
		`DELETE FROM files WHERE path = ?`,
	}
	for _, q := range stmts {
		args := []interface{}{path}
		if strings.Count(q, "?") == 2 {
			args = append(args, path)
		}
		if _, err := u.tx.Exec(q, args...); err != nil {
			return fmt.Errorf("delete file %s: %w", path, err)
		}
	}
	return nil
}

// DeletePackage removes every row a package contributed, so a recompile fully
// replaces the package's slice of the index, never partially.
func (u *DBUpdate) DeletePackage(pkg string) error {
	stmts := []string{
		`DELETE FROM refs WHERE file IN (SELECT path FROM files WHERE package = ?)`,
		`DELETE FROM completions WHERE symbol_id IN (SELECT id FROM symbols WHERE package = ?)`,
		`DELETE FROM comments WHERE symbol_id IN (SELECT id FROM symbols WHERE package = ?)`,
		`DELETE FROM relations WHERE subject_id IN (SELECT id FROM symbols WHERE package = ?)
			OR object_id IN (SELECT id FROM symbols WHERE package = ?)`,
		`DELETE FROM extends WHERE pkg_name = ?`,
		`DELETE FROM symbols WHERE package = ?`,
		`DELETE FROM files WHERE package = ?`,
	}
	for _, q := range stmts {
		args := []interface{}{pkg}
		if strings.Count(q, "?") == 2 {
			args = append(args, pkg)
		}
		if _, err := u.tx.Exec(q, args...); err != nil {
			return fmt.Errorf("delete package %s: %w", pkg, err)
		}
	}
	return nil
}

// multiInsert builds chunked multi-row INSERTs for n rows of width cols.
func (u *DBUpdate) multiInsert(table, cols string, width, n int, args func(i int) []interface{}) error {
	placeholderRow := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"
	for start := 0; start < n; start += multiInsertChunk {
		end := start + multiInsertChunk
		if end > n {
			end = n
		}
		rows := end - start
		var sb strings.Builder
		sb.WriteString("INSERT INTO " + table + " (" + cols + ") VALUES ")
		for i := 0; i < rows; i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(placeholderRow)
		}
		flat := make([]interface{}, 0, rows*width)
		for i := start; i < end; i++ {
			flat = append(flat, args(i)...)
		}
		if _, err := u.tx.Exec(sb.String(), flat...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// InsertSymbols bulk-inserts symbol rows, replacing any existing row with the
// same id.
func (u *DBUpdate) InsertSymbols(rows []SymbolRow) error {
	if len(rows) == 0 {
		return nil
	}
	// Same-id rows are fully replaced: delete first, insert after.
	for start := 0; start < len(rows); start += multiInsertChunk {
		end := start + multiInsertChunk
		if end > len(rows) {
			end = len(rows)
		}
		ids := make([]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			ids = append(ids, rows[i].ID)
		}
		q := "DELETE FROM symbols WHERE id IN (" +
			strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")"
		if _, err := u.tx.Exec(q, ids...); err != nil {
			return fmt.Errorf("replace symbols: %w", err)
		}
	}
	return u.multiInsert("symbols",
		`id, kind, sub_kind, lang, flags, name, scope, package,
		 decl_file, decl_start_line, decl_start_col, decl_end_line, decl_end_col,
		 def_file, def_start_line, def_start_col, def_end_line, def_end_col,
		 signature, return_type, type, modifier, is_deprecated, syscap,
		 container_module, macro_call_file, macro_call_line, macro_call_col`,
		28, len(rows), func(i int) []interface{} {
			r := rows[i]
			return []interface{}{
				r.ID, r.Kind, r.SubKind, r.Lang, r.Flags, r.Name, r.Scope, r.Package,
				r.DeclFile, r.DeclRange.Start.Line, r.DeclRange.Start.Col, r.DeclRange.End.Line, r.DeclRange.End.Col,
				r.DefFile, r.DefRange.Start.Line, r.DefRange.Start.Col, r.DefRange.End.Line, r.DefRange.End.Col,
				r.Signature, r.ReturnType, r.Type, r.Modifier, boolInt(r.IsDeprecated), r.SysCap,
				r.ContainerModule, r.MacroCallFile, r.MacroCallLine, r.MacroCallCol,
			}
		})
}

// InsertReferences bulk-inserts reference rows.
func (u *DBUpdate) InsertReferences(rows []RefRow) error {
	if len(rows) == 0 {
		return nil
	}
	return u.multiInsert("refs",
		"symbol_id, kind, file, start_line, start_col, end_line, end_col, container_id, is_cjo, is_super",
		10, len(rows), func(i int) []interface{} {
			r := rows[i]
			return []interface{}{
				r.SymbolID, r.Kind, r.File,
				r.Range.Start.Line, r.Range.Start.Col, r.Range.End.Line, r.Range.End.Col,
				r.ContainerID, boolInt(r.IsCjo), boolInt(r.IsSuper),
			}
		})
}

// InsertRelations bulk-inserts relation rows, ignoring duplicates.
func (u *DBUpdate) InsertRelations(rows []RelationRow) error {
	if len(rows) == 0 {
		return nil
	}
	st, err := u.tx.Prepare(
		`INSERT OR IGNORE INTO relations (subject_id, predicate, object_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare relations insert: %w", err)
	}
	defer st.Close()
	for _, r := range rows {
		if _, err := st.Exec(r.SubjectID, r.Predicate, r.ObjectID); err != nil {
			return fmt.Errorf("insert relation: %w", err)
		}
	}
	return nil
}

// InsertCompletions bulk-inserts completion rows.
func (u *DBUpdate) InsertCompletions(rows []CompletionRow) error {
	if len(rows) == 0 {
		return nil
	}
	return u.multiInsert("completions", "symbol_id, label, insert_text",
		3, len(rows), func(i int) []interface{} {
			r := rows[i]
			return []interface{}{r.SymbolID, r.Label, r.InsertText}
		})
}

// InsertComments bulk-inserts comment rows.
func (u *DBUpdate) InsertComments(rows []CommentRow) error {
	if len(rows) == 0 {
		return nil
	}
	return u.multiInsert("comments", "symbol_id, style, kind, text",
		4, len(rows), func(i int) []interface{} {
			r := rows[i]
			return []interface{}{r.SymbolID, r.Style, r.Kind, r.Text}
		})
}

// InsertExtends bulk-inserts extend rows.
func (u *DBUpdate) InsertExtends(rows []ExtendRow) error {
	if len(rows) == 0 {
		return nil
	}
	return u.multiInsert("extends", "extend_id, target_id, modifier, interface_name, pkg_name",
		5, len(rows), func(i int) []interface{} {
			r := rows[i]
			return []interface{}{r.ExtendID, r.TargetID, r.Modifier, r.InterfaceName, r.PkgName}
		})
}

// InsertCrossSymbols bulk-inserts cross-language symbol rows.
func (u *DBUpdate) InsertCrossSymbols(rows []CrossSymbolRow) error {
	if len(rows) == 0 {
		return nil
	}
	return u.multiInsert("cross_symbols",
		"pkg, id, name, container_id, container_name, type, file, start_line, start_col, end_line, end_col, declaration",
		12, len(rows), func(i int) []interface{} {
			r := rows[i]
			return []interface{}{
				r.Pkg, r.ID, r.Name, r.ContainerID, r.ContainerName, r.Type, r.File,
				r.Range.Start.Line, r.Range.Start.Col, r.Range.End.Line, r.Range.End.Col,
				r.Declaration,
			}
		})
}

// DeleteCrossSymbols removes a package's cross-language rows.
func (u *DBUpdate) DeleteCrossSymbols(pkg string) error {
	if _, err := u.tx.Exec(`DELETE FROM cross_symbols WHERE pkg = ?`, pkg); err != nil {
		return fmt.Errorf("delete cross symbols %s: %w", pkg, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
