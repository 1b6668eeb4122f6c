package app

import (
	"context"
	"fmt"

	"github.com/jtekt/approval-flow/internal/app/blob"
	"github.com/jtekt/approval-flow/internal/app/services/applications"
	"github.com/jtekt/approval-flow/internal/app/services/files"
	"github.com/jtekt/approval-flow/internal/app/services/templates"
	"github.com/jtekt/approval-flow/internal/app/storage"
	"github.com/jtekt/approval-flow/internal/app/storage/memory"
	"github.com/jtekt/approval-flow/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users        storage.UserStore
	Applications storage.ApplicationStore
	Templates    storage.TemplateStore
}

// Options tunes application behavior.
type Options struct {
	// EnforceFlowOrder rejects out-of-turn approvals and rejections.
	EnforceFlowOrder bool
	// BlobBaseURL addresses the attachment store; defaults to an in-memory
	// location suitable for tests.
	BlobBaseURL string
}

// Application ties domain services together.
type Application struct {
	log *logger.Logger

	Users        storage.UserStore
	Applications *applications.Service
	Templates    *templates.Service
	Files        *files.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Applications == nil {
		stores.Applications = mem
	}
	if stores.Templates == nil {
		stores.Templates = mem
	}

	blobBaseURL := opts.BlobBaseURL
	if blobBaseURL == "" {
		blobBaseURL = "mem://localhost/approval-flow/uploads"
	}
	blobs, err := blob.New(context.Background(), blobBaseURL)
	if err != nil {
		return nil, fmt.Errorf("configure blob store: %w", err)
	}

	appService := applications.New(stores.Users, stores.Applications, log,
		applications.WithFlowOrderEnforcement(opts.EnforceFlowOrder))
	templateService := templates.New(stores.Users, stores.Templates, log)
	fileService := files.New(blobs, appService, stores.Applications, log)

	return &Application{
		log:          log,
		Users:        stores.Users,
		Applications: appService,
		Templates:    templateService,
		Files:        fileService,
	}, nil
}
