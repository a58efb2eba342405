package shared

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryParameter      Category = "parameter"
	CategoryNetwork        Category = "network"
	CategoryUnknown        Category = "unknown"
)

type Classification struct {
	Code      int
	Message   string
	Severity  Severity
	Category  Category
	Retryable bool
}

var remoteCodes = map[int]Classification{
	10105: {Message: "authentication or parameter error", Severity: SeverityHigh, Category: CategoryAuthentication},
	10109: {Message: "request rate limited", Severity: SeverityLow, Category: CategoryAuthentication, Retryable: true},
	10007: {Message: "service unavailable or timed out", Severity: SeverityMedium, Category: CategoryNetwork, Retryable: true},
	10800: {Message: "connection limit exceeded", Severity: SeverityLow, Category: CategoryAuthentication, Retryable: true},
	11200: {Message: "unsupported audio format", Severity: SeverityHigh, Category: CategoryParameter},
	11201: {Message: "invalid sample rate", Severity: SeverityHigh, Category: CategoryParameter},
	11202: {Message: "invalid channel count", Severity: SeverityHigh, Category: CategoryParameter},
	11203: {Message: "invalid bit depth", Severity: SeverityMedium, Category: CategoryParameter},
	11204: {Message: "audio data too large", Severity: SeverityMedium, Category: CategoryParameter},
	11401: {Message: "invalid text encoding", Severity: SeverityMedium, Category: CategoryParameter},
	11500: {Message: "internal engine error", Severity: SeverityMedium, Category: CategoryUnknown, Retryable: true},
	11999: {Message: "internal engine error, retry", Severity: SeverityCritical, Category: CategoryUnknown, Retryable: true},
}

// Classify maps a remote status code to its severity, category and
// retryability. Unknown codes are medium severity and not retryable.
func Classify(code int) Classification {
	c, ok := remoteCodes[code]
	if !ok {
		c = Classification{Message: "remote error", Severity: SeverityMedium, Category: CategoryUnknown}
	}
	c.Code = code
	return c
}
