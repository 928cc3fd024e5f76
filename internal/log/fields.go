package log

// Common field names for structured logging.
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldYear        = "year"
	FieldMonth       = "month"
	FieldEntryID     = "entry_id"
	FieldEnvelopeID  = "envelope_id"
	FieldCategoryID  = "category_id"
	FieldAmountCents = "amount_cents"
	FieldSaldoCents  = "saldo_cents"
	FieldEventKind   = "event_kind"
)

// Components defines standard component names.
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentLedger   = "ledger"
	ComponentEnvelope = "envelope"
	ComponentReport   = "report"
	ComponentStorage  = "storage"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentCache    = "cache"
)

// Operations defines standard operation names.
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpAmend     = "amend"
	OpDelete    = "delete"
	OpDeposit   = "deposit"
	OpArchive   = "archive"
	OpReconcile = "reconcile"
	OpResolve   = "resolve"
	OpAllocate  = "allocate"
	OpAudit     = "audit"
	OpStartup   = "startup"
	OpShutdown  = "shutdown"
)
