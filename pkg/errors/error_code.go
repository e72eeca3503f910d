package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1
	ErrCodeTimeout ErrorCode = 2

	// Validation/configuration errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidTimeframe     ErrorCode = 103
	ErrCodeMissingParameter     ErrorCode = 104
	ErrCodeInvalidQuantity      ErrorCode = 105
	ErrCodeInvalidPrice         ErrorCode = 106

	// Data/resource errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeNoDataFound           ErrorCode = 203
	ErrCodeStreamClosed          ErrorCode = 204

	// Graph compile errors (300-399)
	ErrCodeCyclicGraph     ErrorCode = 300
	ErrCodeUnknownNodeType ErrorCode = 301
	ErrCodeInvalidGraph    ErrorCode = 302
	ErrCodeInvalidLink     ErrorCode = 303

	// Engine errors (400-499)
	ErrCodeMissingInput     ErrorCode = 400
	ErrCodeNodeExecution    ErrorCode = 401
	ErrCodeSessionNotBuilt  ErrorCode = 402
	ErrCodeInvalidNodeProps ErrorCode = 403
	ErrCodeEngineAborted    ErrorCode = 404

	// Ledger/trading errors (500-599)
	ErrCodeOrderFailed       ErrorCode = 500
	ErrCodeOrderNotFound     ErrorCode = 501
	ErrCodeOrderNotOpen      ErrorCode = 502
	ErrCodeInstrumentSpecs   ErrorCode = 503
	ErrCodePositionNotFound  ErrorCode = 504
	ErrCodeMarketDataMissing ErrorCode = 505

	// Exchange errors (600-699)
	ErrCodeExchangeClient    ErrorCode = 600
	ErrCodeExchangeTransient ErrorCode = 601
	ErrCodeExchangeRejected  ErrorCode = 602
	ErrCodeRetryExhausted    ErrorCode = 603

	// Analyzer errors (700-799)
	ErrCodeAnalyzerFailed ErrorCode = 700
	ErrCodeFundingFailed  ErrorCode = 701

	// Bot lifecycle errors (800-899)
	ErrCodeBotFatal        ErrorCode = 800
	ErrCodeBotNotFound     ErrorCode = 801
	ErrCodeBotAlreadyRuns  ErrorCode = 802
	ErrCodeBotStoreFailed  ErrorCode = 803
	ErrCodeBotStopTimeout  ErrorCode = 804
	ErrCodeControlPlane    ErrorCode = 805
	ErrCodeBotConfigFailed ErrorCode = 806
)
