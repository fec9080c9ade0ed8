package constants

// Route constants
const (
	WebhookRoute      = "/webhooks/sync"
	WebhookSyncRoute  = "/:type/:companyId"
	AdminSyncRoute    = "/admin/sync"
	HealthRoute       = "/health"
	DocsBasePath      = "/docs/api/"
	OpenAPISpecPath   = "public/docs/v1/openapi.yml"
	OpenAPIDocVersion = "v1"
)
