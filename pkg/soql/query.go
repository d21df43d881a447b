// Package soql models a single bulk query against one remote object: the
// object name, the fields the server reports for it, and the query text
// that is mutated by incremental and deletion predicates.
package soql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethpandaops/sfbulk/pkg/failure"
)

// IsDeletedField is the soft-delete flag present on most objects
const IsDeletedField = "IsDeleted"

// Static errors
var (
	ErrEmptyQuery       = errors.New("query must be a single non-empty string")
	ErrMissingSelect    = errors.New("query must contain SELECT")
	ErrMissingFrom      = errors.New("query must contain FROM")
	ErrOffsetNotAllowed = errors.New("OFFSET is not supported by the bulk API")
	ErrTypeofNotAllowed = errors.New("TYPEOF is not supported by the bulk API")
	ErrMissingObject    = errors.New("could not determine the object after FROM")
	ErrNoFields         = errors.New("no exportable fields")
	ErrUnknownField     = errors.New("field is not present in the object")
)

// FieldLister reports the fields of an object that the bulk API can export
type FieldLister interface {
	ExportableFields(ctx context.Context, object string) ([]string, error)
}

// Query is one query against one remote object
type Query struct {
	object     string
	fields     []string
	fieldSet   map[string]string
	selected   []string
	dropped    []string
	text       string
	fromObject bool
}

// Validate checks literal query text before any network call
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return validation(ErrEmptyQuery)
	}

	tokens := tokenize(text)

	switch {
	case !containsWord(tokens, "SELECT"):
		return validation(ErrMissingSelect)
	case !containsWord(tokens, "FROM"):
		return validation(ErrMissingFrom)
	case containsWord(tokens, "OFFSET"):
		return validation(ErrOffsetNotAllowed)
	case containsWord(tokens, "TYPEOF"):
		return validation(ErrTypeofNotAllowed)
	}

	return nil
}

func validation(err error) error {
	return &failure.Error{Kind: failure.KindValidation, Op: "query.soql", Err: err}
}

// BuildFromObject synthesizes a query selecting the exportable fields of
// object. When requested is non-empty only the requested fields that the
// object exports are kept; the rest are recorded in Dropped.
func BuildFromObject(ctx context.Context, object string, lister FieldLister, requested []string) (*Query, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return nil, failure.Validation("query.object", "object name is required")
	}

	exportable, err := lister.ExportableFields(ctx, object)
	if err != nil {
		return nil, err
	}

	q := newQuery(object, exportable)
	q.fromObject = true

	selected := exportable
	if len(requested) > 0 {
		selected = make([]string, 0, len(requested))
		for _, r := range requested {
			r = strings.TrimSpace(r)
			if name, ok := q.fieldSet[strings.ToLower(r)]; ok {
				selected = append(selected, name)
				continue
			}
			q.dropped = append(q.dropped, r)
		}
	}

	if len(selected) == 0 {
		return nil, &failure.Error{
			Kind:    failure.KindValidation,
			Op:      "query.fields",
			Message: fmt.Sprintf("object %s", object),
			Err:     ErrNoFields,
		}
	}

	q.selected = selected
	q.text = fmt.Sprintf("SELECT %s FROM %s", strings.Join(selected, ","), object)

	return q, nil
}

// BuildFromText validates text, derives its object and fetches the
// object's exportable fields.
func BuildFromText(ctx context.Context, text string, lister FieldLister) (*Query, error) {
	if err := Validate(text); err != nil {
		return nil, err
	}

	object, err := ObjectFromQuery(text)
	if err != nil {
		return nil, validation(err)
	}

	exportable, err := lister.ExportableFields(ctx, object)
	if err != nil {
		return nil, err
	}

	q := newQuery(object, exportable)
	q.text = strings.TrimSpace(text)
	q.selected = FieldsFromQuery(q.text, object)

	return q, nil
}

func newQuery(object string, fields []string) *Query {
	set := make(map[string]string, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = f
	}

	return &Query{
		object:   object,
		fields:   append([]string(nil), fields...),
		fieldSet: set,
	}
}

// Object returns the remote object name
func (q *Query) Object() string { return q.object }

// Text returns the current query text
func (q *Query) Text() string { return q.text }

// Fields returns the server-reported exportable fields of the object
func (q *Query) Fields() []string { return append([]string(nil), q.fields...) }

// Selected returns the fields named in the SELECT clause
func (q *Query) Selected() []string { return append([]string(nil), q.selected...) }

// Dropped returns requested fields that the object does not export
func (q *Query) Dropped() []string { return append([]string(nil), q.dropped...) }

// FromObject reports whether the query was synthesized from an object name
func (q *Query) FromObject() bool { return q.fromObject }

// HasField reports whether the object exports name (case-insensitive)
func (q *Query) HasField(name string) bool {
	_, ok := q.fieldSet[strings.ToLower(name)]
	return ok
}

// InjectIncremental restricts the query to rows where field >= watermark.
// The predicate is ANDed into an existing WHERE clause.
func (q *Query) InjectIncremental(field, watermark string) error {
	if !q.HasField(field) {
		return &failure.Error{
			Kind:    failure.KindValidation,
			Op:      "loading.incrementalField",
			Message: fmt.Sprintf("field %s is not present in the %s object", field, q.object),
			Err:     ErrUnknownField,
		}
	}

	q.addPredicate(fmt.Sprintf("%s >= %s", field, watermark))

	return nil
}

// InjectDeletionExclusion adds IsDeleted = false unless deleted records are
// wanted. It returns false when the object has no IsDeleted field, in which
// case deleted records can neither be excluded nor requested and the query
// is left unchanged.
func (q *Query) InjectDeletionExclusion(includeDeleted bool) bool {
	if !q.HasField(IsDeletedField) {
		return false
	}

	if !includeDeleted {
		q.addPredicate(IsDeletedField + " = false")
	}

	return true
}

// MissingPrimaryKeys returns the keys that do not appear as a token of the
// query text. An empty result means every key is selected.
func (q *Query) MissingPrimaryKeys(pkeys []string) []string {
	tokens := keyTokens(q.text)

	missing := make([]string, 0)
	for _, k := range pkeys {
		if _, ok := tokens[strings.ToLower(strings.TrimSpace(k))]; !ok {
			missing = append(missing, k)
		}
	}

	return missing
}

// WithRowLimit returns a copy of the query capped at n rows. It is meant
// for cheap validation probes, never for the extraction itself.
func (q *Query) WithRowLimit(n int) *Query {
	cp := *q
	cp.fields = q.Fields()
	cp.selected = q.Selected()
	cp.dropped = q.Dropped()

	tokens := tokenize(q.text)

	if idx := findTopLevel(tokens, "LIMIT", 0); idx >= 0 && idx+1 < len(tokens) {
		num := tokens[idx+1]
		if current, err := strconv.Atoi(num.text); err == nil && current <= n {
			return &cp
		}

		cp.text = q.text[:num.start] + strconv.Itoa(n) + q.text[num.end:]

		return &cp
	}

	insertAt := len(q.text)
	if idx := findTopLevel(tokens, "FOR", 0); idx >= 0 {
		insertAt = tokens[idx].start
	}

	cp.text = joinClause(q.text[:insertAt], "LIMIT "+strconv.Itoa(n), q.text[insertAt:])

	return &cp
}

// addPredicate ANDs predicate into the top-level WHERE clause, creating the
// clause before any trailing WITH/GROUP BY/ORDER BY/LIMIT when absent.
func (q *Query) addPredicate(predicate string) {
	tokens := tokenize(q.text)

	if where := findTopLevel(tokens, "WHERE", 0); where >= 0 {
		end := clauseStart(tokens, where+1, q.text)
		cond := strings.TrimSpace(q.text[tokens[where].end:end])

		clause := predicate
		if cond != "" {
			clause = fmt.Sprintf("%s AND (%s)", predicate, cond)
		}

		q.text = joinClause(q.text[:tokens[where].end], clause, q.text[end:])

		return
	}

	from := findTopLevel(tokens, "FROM", 0)

	end := len(q.text)
	if from >= 0 {
		end = clauseStart(tokens, from+1, q.text)
	}

	q.text = joinClause(q.text[:end], "WHERE "+predicate, q.text[end:])
}

func joinClause(head, clause, tail string) string {
	head = strings.TrimRight(head, " \t\r\n")
	tail = strings.TrimLeft(tail, " \t\r\n")

	if tail == "" {
		return head + " " + clause
	}

	return head + " " + clause + " " + tail
}
