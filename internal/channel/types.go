// Package channel carries the control surface's requests to the page agent:
// JSON-RPC over a unix domain socket, one response per request.
package channel

import (
	"context"

	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/records"
)

// ServiceName is the RPC receiver name.
const ServiceName = "Page"

// Response status values.
const (
	StatusReady     = "ready"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusClicked   = "clicked"
	StatusStopped   = "stopped"
)

// Handler is implemented by the page agent.
type Handler interface {
	FillForm(ctx context.Context, rec records.Record, index int) error
	ClickAddEntry(ctx context.Context) error
	CheckPage(ctx context.Context) (page.Kind, error)
	Stop(ctx context.Context) error
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type FillFormRequest struct {
	Data       records.Record `json:"data"`
	EntryIndex int            `json:"entryIndex"`
}

type FillFormResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ClickAddEntryRequest struct{}

type ClickAddEntryResponse struct {
	Status string `json:"status"`
}

type CheckPageRequest struct{}

type CheckPageResponse struct {
	PageType string `json:"pageType"`
}

// Kind decodes the page type.
func (r CheckPageResponse) Kind() page.Kind { return page.ParseKind(r.PageType) }

type StopRequest struct{}

type StopResponse struct {
	Status string `json:"status"`
}
