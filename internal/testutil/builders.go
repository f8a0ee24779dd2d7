package testutil

import (
	"fmt"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/execution"
)

// Tenant returns a fully populated tenant for id.
func Tenant(id string) core.Tenant {
	return core.Tenant{
		ID:         id,
		Email:      id + "@example.com",
		Name:       "Tenant " + id,
		OrgID:      "org-" + id,
		OrgName:    "Org " + id,
		InstanceID: "inst-" + id,
		ResourceID: "res-" + id,
		ServiceID:  "svc-1",
		PlanID:     "plan-basic",
	}
}

// RecordBuilder provides a fluent helper for constructing new execution
// records in tests.
//
//	n := NewRecordBuilder("tenant-a").Task("say hi").Meta("source", "test").Build()
type RecordBuilder struct {
	rec execution.NewRecord
}

// NewRecordBuilder creates a builder with default task and model.
func NewRecordBuilder(tenantID string) *RecordBuilder {
	return &RecordBuilder{rec: execution.NewRecord{
		TenantID: tenantID,
		Task:     "test task",
		Model:    "scripted",
	}}
}

// Task sets the task text (chainable).
func (b *RecordBuilder) Task(t string) *RecordBuilder { b.rec.Task = t; return b }

// Model sets the model identifier (chainable).
func (b *RecordBuilder) Model(m string) *RecordBuilder { b.rec.Model = m; return b }

// Meta sets a metadata key (chainable).
func (b *RecordBuilder) Meta(key string, val any) *RecordBuilder {
	if b.rec.Metadata == nil {
		b.rec.Metadata = map[string]any{}
	}
	b.rec.Metadata[key] = val
	return b
}

// Build returns the configured record.
func (b *RecordBuilder) Build() execution.NewRecord { return b.rec }

// Steps returns n placeholder steps named after their position.
func Steps(n int) []execution.Step {
	steps := make([]execution.Step, n)
	for i := range steps {
		steps[i] = execution.Step{
			Action:      fmt.Sprintf("tool_%d({})", i),
			Observation: "observed",
		}
	}
	return steps
}

// ContentBuilder constructs conversation content in tests.
//
//	c := NewContentBuilder("assistant").Text("checking").Call("c1", "web_search", `{"query":"go"}`).Build()
type ContentBuilder struct {
	c core.Content
}

// NewContentBuilder creates a builder for role.
func NewContentBuilder(role string) *ContentBuilder {
	return &ContentBuilder{c: core.Content{Role: role}}
}

// Text appends a text part (chainable).
func (b *ContentBuilder) Text(t string) *ContentBuilder {
	b.c.Parts = append(b.c.Parts, core.TextPart{Text: t})
	return b
}

// Call appends a function call part (chainable).
func (b *ContentBuilder) Call(id, name, args string) *ContentBuilder {
	b.c.Parts = append(b.c.Parts, core.FunctionCallPart{
		FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args},
	})
	return b
}

// Response appends a function response part (chainable).
func (b *ContentBuilder) Response(id, name string, resp any, errMsg string) *ContentBuilder {
	b.c.Parts = append(b.c.Parts, core.FunctionResponsePart{
		FunctionResponse: core.FunctionResponse{ID: id, Name: name, Response: resp, Error: errMsg},
	})
	return b
}

// Build returns the content.
func (b *ContentBuilder) Build() core.Content { return b.c }
