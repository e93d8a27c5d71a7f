package index

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/sahilm/fuzzy"

	"cjls/internal/compiler"
)

// ErrNotFound marks an absent row.
var ErrNotFound = errors.New("not found")

const symbolColumns = `id, kind, sub_kind, lang, flags, name, scope, package,
	decl_file, decl_start_line, decl_start_col, decl_end_line, decl_end_col,
	def_file, def_start_line, def_start_col, def_end_line, def_end_col,
	signature, return_type, type, modifier, is_deprecated, syscap,
	container_module, macro_call_file, macro_call_line, macro_call_col`

func scanSymbol(sc interface{ Scan(...interface{}) error }) (SymbolRow, error) {
	var r SymbolRow
	var deprecated int
	err := sc.Scan(
		&r.ID, &r.Kind, &r.SubKind, &r.Lang, &r.Flags, &r.Name, &r.Scope, &r.Package,
		&r.DeclFile, &r.DeclRange.Start.Line, &r.DeclRange.Start.Col, &r.DeclRange.End.Line, &r.DeclRange.End.Col,
		&r.DefFile, &r.DefRange.Start.Line, &r.DefRange.Start.Col, &r.DefRange.End.Line, &r.DefRange.End.Col,
		&r.Signature, &r.ReturnType, &r.Type, &r.Modifier, &deprecated, &r.SysCap,
		&r.ContainerModule, &r.MacroCallFile, &r.MacroCallLine, &r.MacroCallCol)
	r.IsDeprecated = deprecated != 0
	return r, err
}

// GetSymbolByID fetches one symbol row.
func (s *Store) GetSymbolByID(id compiler.SymbolID) (SymbolRow, error) {
	st, err := s.stmt(`SELECT ` + symbolColumns + ` FROM symbols WHERE id = ?`)
	if err != nil {
		return SymbolRow{}, err
	}
	row, err := scanSymbol(st.QueryRow(SID(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return SymbolRow{}, ErrNotFound
	}
	return row, err
}

// GetSymbolsByName fetches every symbol with the exact name.
func (s *Store) GetSymbolsByName(name string) ([]SymbolRow, error) {
	st, err := s.stmt(`SELECT ` + symbolColumns + ` FROM symbols WHERE name = ?`)
	if err != nil {
		return nil, err
	}
	return s.collectSymbols(st, name)
}

// GetPkgSymbols fetches every symbol a package declares.
func (s *Store) GetPkgSymbols(pkg string) ([]SymbolRow, error) {
	st, err := s.stmt(`SELECT ` + symbolColumns + ` FROM symbols WHERE package = ? ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return s.collectSymbols(st, pkg)
}

func (s *Store) collectSymbols(st *sql.Stmt, args ...interface{}) ([]SymbolRow, error) {
	rows, err := st.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()
	var out []SymbolRow
	for rows.Next() {
		r, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MatchingSymbol is one ranked fuzzy query hit.
type MatchingSymbol struct {
	Symbol   SymbolRow
	Score    float64
	RefCount int
}

// GetMatchingSymbols runs a fuzzy query over indexed identifiers and returns
// ranked results with reference counts. A scope narrows matches to one
// package.
func (s *Store) GetMatchingSymbols(query, scope string, limit int) ([]MatchingSymbol, error) {
	var (
		all []SymbolRow
		err error
	)
	if scope != "" {
		all, err = s.GetPkgSymbols(scope)
	} else {
		st, serr := s.stmt(`SELECT ` + symbolColumns + ` FROM symbols`)
		if serr != nil {
			return nil, serr
		}
		all, err = s.collectSymbols(st)
	}
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	names := make([]string, len(all))
	for i, r := range all {
		names[i] = r.Name
	}
	matches := fuzzy.Find(query, names)

	var out []MatchingSymbol
	var maxScore int
	for _, m := range matches {
		if m.Score > maxScore {
			maxScore = m.Score
		}
	}
	for _, m := range matches {
		score := 1.0
		if maxScore > 0 {
			score = float64(m.Score) / float64(maxScore)
		}
		refCount, _ := s.countReferences(all[m.Index].ID)
		out = append(out, MatchingSymbol{Symbol: all[m.Index], Score: score, RefCount: refCount})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].RefCount > out[j].RefCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) countReferences(symbolID int64) (int, error) {
	st, err := s.stmt(`SELECT COUNT(*) FROM refs WHERE symbol_id = ?`)
	if err != nil {
		return 0, err
	}
	var n int
	err = st.QueryRow(symbolID).Scan(&n)
	return n, err
}

const refColumns = `symbol_id, kind, file, start_line, start_col, end_line, end_col, container_id, is_cjo, is_super`

func scanRef(sc interface{ Scan(...interface{}) error }) (RefRow, error) {
	var r RefRow
	var cjo, super int
	err := sc.Scan(&r.SymbolID, &r.Kind, &r.File,
		&r.Range.Start.Line, &r.Range.Start.Col, &r.Range.End.Line, &r.Range.End.Col,
		&r.ContainerID, &cjo, &super)
	r.IsCjo = cjo != 0
	r.IsSuper = super != 0
	return r, err
}

// GetReferences fetches use sites of a symbol, optionally filtered by kind.
func (s *Store) GetReferences(id compiler.SymbolID, kind string) ([]RefRow, error) {
	query := `SELECT ` + refColumns + ` FROM refs WHERE symbol_id = ?`
	args := []interface{}{SID(id)}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY file, start_line, start_col`
	st, err := s.stmt(query)
	if err != nil {
		return nil, err
	}
	return s.collectRefs(st, args...)
}

// GetFileReferences fetches every reference recorded inside a file.
func (s *Store) GetFileReferences(file, kind string) ([]RefRow, error) {
	query := `SELECT ` + refColumns + ` FROM refs WHERE file = ?`
	args := []interface{}{file}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY start_line, start_col`
	st, err := s.stmt(query)
	if err != nil {
		return nil, err
	}
	return s.collectRefs(st, args...)
}

// GetReferred fetches the references made from inside a declaration
// (outgoing edges of the container).
func (s *Store) GetReferred(container compiler.SymbolID) ([]RefRow, error) {
	st, err := s.stmt(`SELECT ` + refColumns + ` FROM refs WHERE container_id = ? ORDER BY file, start_line, start_col`)
	if err != nil {
		return nil, err
	}
	return s.collectRefs(st, SID(container))
}

func (s *Store) collectRefs(st *sql.Stmt, args ...interface{}) ([]RefRow, error) {
	rows, err := st.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("query refs: %w", err)
	}
	defer rows.Close()
	var out []RefRow
	for rows.Next() {
		r, err := scanRef(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRelations fetches relation edges for a subject. The OVERRIDES view is
// synthesized from stored OVERRIDDEN_BY rows rather than duplicated.
func (s *Store) GetRelations(subject compiler.SymbolID, predicate string) ([]RelationRow, error) {
	if predicate == "overrides" {
		st, err := s.stmt(
			`SELECT subject_id, predicate, object_id FROM relations
			 WHERE object_id = ? AND predicate = 'overridden_by'`)
		if err != nil {
			return nil, err
		}
		rows, err := st.Query(SID(subject))
		if err != nil {
			return nil, fmt.Errorf("query relations: %w", err)
		}
		defer rows.Close()
		var out []RelationRow
		for rows.Next() {
			var r RelationRow
			if err := rows.Scan(&r.SubjectID, &r.Predicate, &r.ObjectID); err != nil {
				return nil, err
			}
			// Present the synthesized direction: subject overrides object.
			out = append(out, RelationRow{SubjectID: SID(subject), Predicate: "overrides", ObjectID: r.SubjectID})
		}
		return out, rows.Err()
	}

	query := `SELECT subject_id, predicate, object_id FROM relations WHERE subject_id = ?`
	args := []interface{}{SID(subject)}
	if predicate != "" {
		query += ` AND predicate = ?`
		args = append(args, predicate)
	}
	st, err := s.stmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()
	var out []RelationRow
	for rows.Next() {
		var r RelationRow
		if err := rows.Scan(&r.SubjectID, &r.Predicate, &r.ObjectID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRelationsTo fetches edges pointing at an object.
func (s *Store) GetRelationsTo(object compiler.SymbolID, predicate string) ([]RelationRow, error) {
	query := `SELECT subject_id, predicate, object_id FROM relations WHERE object_id = ?`
	args := []interface{}{SID(object)}
	if predicate != "" {
		query += ` AND predicate = ?`
		args = append(args, predicate)
	}
	st, err := s.stmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()
	var out []RelationRow
	for rows.Next() {
		var r RelationRow
		if err := rows.Scan(&r.SubjectID, &r.Predicate, &r.ObjectID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetExtends fetches extend rows targeting a type.
func (s *Store) GetExtends(target compiler.SymbolID) ([]ExtendRow, error) {
	st, err := s.stmt(
		`SELECT extend_id, target_id, modifier, interface_name, pkg_name FROM extends WHERE target_id = ?`)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(SID(target))
	if err != nil {
		return nil, fmt.Errorf("query extends: %w", err)
	}
	defer rows.Close()
	var out []ExtendRow
	for rows.Next() {
		var r ExtendRow
		if err := rows.Scan(&r.ExtendID, &r.TargetID, &r.Modifier, &r.InterfaceName, &r.PkgName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetCrossSymbols fetches cross-language symbols by package and name.
func (s *Store) GetCrossSymbols(pkg, name string) ([]CrossSymbolRow, error) {
	query := `SELECT pkg, id, name, container_id, container_name, type, file,
		start_line, start_col, end_line, end_col, declaration FROM cross_symbols WHERE pkg = ?`
	args := []interface{}{pkg}
	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}
	st, err := s.stmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("query cross symbols: %w", err)
	}
	defer rows.Close()
	var out []CrossSymbolRow
	for rows.Next() {
		var r CrossSymbolRow
		if err := rows.Scan(&r.Pkg, &r.ID, &r.Name, &r.ContainerID, &r.ContainerName, &r.Type,
			&r.File, &r.Range.Start.Line, &r.Range.Start.Col, &r.Range.End.Line, &r.Range.End.Col,
			&r.Declaration); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetFileWithID fetches one file row by id.
func (s *Store) GetFileWithID(fileID int64) (FileRow, error) {
	st, err := s.stmt(`SELECT file_id, path, digest, package, module FROM files WHERE file_id = ?`)
	if err != nil {
		return FileRow{}, err
	}
	var r FileRow
	err = st.QueryRow(fileID).Scan(&r.FileID, &r.Path, &r.Digest, &r.Package, &r.Module)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRow{}, ErrNotFound
	}
	return r, err
}

// GetFileByPath fetches one file row by path.
func (s *Store) GetFileByPath(path string) (FileRow, error) {
	st, err := s.stmt(`SELECT file_id, path, digest, package, module FROM files WHERE path = ?`)
	if err != nil {
		return FileRow{}, err
	}
	var r FileRow
	err = st.QueryRow(path).Scan(&r.FileID, &r.Path, &r.Digest, &r.Package, &r.Module)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRow{}, ErrNotFound
	}
	return r, err
}

// GetFileDigest fetches the stored digest of a file.
func (s *Store) GetFileDigest(path string) (string, error) {
	row, err := s.GetFileByPath(path)
	if err != nil {
		return "", err
	}
	return row.Digest, nil
}

// GetCompletions fetches completion rows for a symbol.
func (s *Store) GetCompletions(id compiler.SymbolID) ([]CompletionRow, error) {
	st, err := s.stmt(`SELECT symbol_id, label, insert_text FROM completions WHERE symbol_id = ?`)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(SID(id))
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()
	var out []CompletionRow
	for rows.Next() {
		var r CompletionRow
		if err := rows.Scan(&r.SymbolID, &r.Label, &r.InsertText); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetComments fetches comment rows for a symbol.
func (s *Store) GetComments(id compiler.SymbolID) ([]CommentRow, error) {
	st, err := s.stmt(`SELECT symbol_id, style, kind, text FROM comments WHERE symbol_id = ?`)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(SID(id))
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()
	var out []CommentRow
	for rows.Next() {
		var r CommentRow
		if err := rows.Scan(&r.SymbolID, &r.Style, &r.Kind, &r.Text); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
