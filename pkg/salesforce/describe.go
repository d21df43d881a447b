package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ethpandaops/sfbulk/pkg/failure"
)

// unsupportedFieldTypes cannot be exported by the bulk API
//
//nolint:gochecknoglobals // read-only lookup table
var unsupportedFieldTypes = map[string]struct{}{
	"address":  {},
	"location": {},
	"base64":   {},
}

// objectsNotSupportedByBulk are queryable objects the bulk API still rejects.
// The service offers no way to discover them.
//
//nolint:gochecknoglobals // read-only lookup table
var objectsNotSupportedByBulk = map[string]struct{}{
	"AccountFeed": {}, "AssetFeed": {}, "AccountHistory": {}, "AcceptedEventRelation": {},
	"DeclinedEventRelation": {}, "AggregateResult": {}, "AttachedContentDocument": {}, "CaseStatus": {},
	"CaseTeamMember": {}, "CaseTeamRole": {}, "CaseTeamTemplate": {}, "CaseTeamTemplateMember": {},
	"CaseTeamTemplateRecord": {}, "CombinedAttachment": {}, "ContentFolderItem": {}, "ContractStatus": {},
	"EventWhoRelation": {}, "FolderedContentDocument": {}, "KnowledgeArticleViewStat": {},
	"KnowledgeArticleVoteStat": {}, "LookedUpFromActivity": {}, "Name": {}, "NoteAndAttachment": {},
	"OpenActivity": {}, "OwnedContentDocument": {}, "PartnerRole": {}, "RecentlyViewed": {},
	"ServiceAppointmentStatus": {}, "SolutionStatus": {}, "TaskPriority": {}, "TaskStatus": {},
	"TaskWhoRelation": {}, "UserRecordAccess": {}, "WorkOrderLineItemStatus": {}, "WorkOrderStatus": {},
}

// Field is one field of an object as reported by describe
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	Nillable bool   `json:"nillable"`
}

// Exportable reports whether the bulk API can export the field
func (f Field) Exportable() bool {
	_, unsupported := unsupportedFieldTypes[f.Type]
	return !unsupported
}

// ObjectInfo summarizes one object from the global describe
type ObjectInfo struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Queryable bool   `json:"queryable"`
}

type describeResponse struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

type globalDescribeResponse struct {
	SObjects []ObjectInfo `json:"sobjects"`
}

// Describe returns every field of object. Results are cached per client.
func (c *Client) Describe(ctx context.Context, object string) ([]Field, error) {
	c.describeMu.Lock()
	cached, ok := c.describeCache[object]
	c.describeMu.Unlock()

	if ok {
		return cached, nil
	}

	var resp describeResponse

	err := c.call(ctx, &request{
		op:     "describe",
		api:    apiREST,
		method: http.MethodGet,
		path:   "sobjects/" + url.PathEscape(object) + "/describe",
	}, &resp)
	if err != nil {
		if failure.Is(err, failure.KindNotFound) {
			return nil, &failure.Error{
				Kind:    failure.KindNotFound,
				Op:      "describe",
				Message: fmt.Sprintf("object %s does not exist", object),
				Err:     ErrObjectNotFound,
			}
		}

		return nil, fmt.Errorf("failed to describe %s: %w", object, err)
	}

	c.describeMu.Lock()
	c.describeCache[object] = resp.Fields
	c.describeMu.Unlock()

	return resp.Fields, nil
}

// ExportableSchema returns the fields of object the bulk API can export
func (c *Client) ExportableSchema(ctx context.Context, object string) ([]Field, error) {
	fields, err := c.Describe(ctx, object)
	if err != nil {
		return nil, err
	}

	out := make([]Field, 0, len(fields))

	for _, f := range fields {
		if f.Exportable() {
			out = append(out, f)
		}
	}

	return out, nil
}

// ExportableFields returns the names of the exportable fields of object
func (c *Client) ExportableFields(ctx context.Context, object string) ([]string, error) {
	fields, err := c.ExportableSchema(ctx, object)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}

	return names, nil
}

// BulkObjects lists objects that are queryable and supported by the bulk API
func (c *Client) BulkObjects(ctx context.Context) ([]ObjectInfo, error) {
	var resp globalDescribeResponse

	err := c.call(ctx, &request{
		op:     "describe_global",
		api:    apiREST,
		method: http.MethodGet,
		path:   "sobjects",
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	out := make([]ObjectInfo, 0, len(resp.SObjects))

	for _, o := range resp.SObjects {
		if !o.Queryable {
			continue
		}

		if _, unsupported := objectsNotSupportedByBulk[o.Name]; unsupported {
			continue
		}

		out = append(out, o)
	}

	return out, nil
}
