// Package app composes the approval service from its parts.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct and service wiring
//	├── domain/             # Domain models (pure data structures)
//	│   ├── approval/       # Forms, submissions, decisions, derived states
//	│   ├── template/       # Reusable form templates
//	│   └── user/           # Users and groups from the identity directory
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (UserStore, ApplicationStore, ...)
//	│   ├── memory/         # In-memory implementation for tests
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic per concern
//	│   ├── applications/   # Approval workflow, confidentiality, listings
//	│   ├── templates/      # Template management and visibility
//	│   └── files/          # Attachments and the orphan sweep
//	├── blob/               # Attachment object storage (viant/afs)
//	├── httpapi/            # HTTP handlers and routing
//	├── apperr/             # Error taxonomy mapped to HTTP statuses
//	└── metrics/            # Prometheus collectors
//
// Services receive store interfaces, never concrete stores; the same service
// code serves the in-memory store in tests and Postgres in production.
package app
