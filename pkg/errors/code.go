package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 20000-20999: System & Common errors
// 21000-21999: Validation errors
// 22000-22999: Problem store errors
// 23000-23999: Submission & Judge errors
// 24000-24999: Contest & Ranking errors

const (
	// ========== System & Common Errors (20000-20999) ==========

	// Success
	Success ErrorCode = 20000

	// Generic errors (20000-20099)
	InternalServerError ErrorCode = 20001
	InvalidParams       ErrorCode = 20002
	NotFound            ErrorCode = 20003
	Unauthorized        ErrorCode = 20004
	Forbidden           ErrorCode = 20005
	ServiceUnavailable  ErrorCode = 20006
	Timeout             ErrorCode = 20007

	// Database errors (20100-20199)
	DatabaseError  ErrorCode = 20100
	RecordNotFound ErrorCode = 20101

	// Cache errors (20200-20299)
	CacheError ErrorCode = 20200
	CacheMiss  ErrorCode = 20201

	// Storage & queue errors (20300-20399)
	StorageError ErrorCode = 20300
	PublishError ErrorCode = 20301

	// ========== Validation Errors (21000-21999) ==========

	ValidationFailed   ErrorCode = 21000
	RequiredFieldEmpty ErrorCode = 21001
	InvalidValue       ErrorCode = 21002

	// ========== Problem Store Errors (22000-22999) ==========

	ProblemNotFound  ErrorCode = 22000
	TestCaseNotFound ErrorCode = 22001
	ProblemCorrupt   ErrorCode = 22002

	// ========== Submission & Judge Errors (23000-23999) ==========

	// Submission intake (23000-23099)
	SubmissionNotFound   ErrorCode = 23000
	CodeEmpty            ErrorCode = 23001
	CodeTooLarge         ErrorCode = 23002
	LanguageNotSupported ErrorCode = 23003

	// Judge execution (23100-23199)
	JudgeQueueFull    ErrorCode = 23100
	JudgeSystemError  ErrorCode = 23101
	SandboxFailed     ErrorCode = 23102
	WorkerReclaimed   ErrorCode = 23103
	CompilationFailed ErrorCode = 23104

	// ========== Contest & Ranking Errors (24000-24999) ==========

	ContestNotFound   ErrorCode = 24000
	ContestNotStarted ErrorCode = 24001
	ContestEnded      ErrorCode = 24002

	LeaderboardNotAvailable ErrorCode = 24100
	ReplayFailed            ErrorCode = 24101
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found in database",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Storage & queue
	StorageError: "Object storage operation failed",
	PublishError: "Failed to publish event",

	// Validation
	ValidationFailed:   "Validation failed",
	RequiredFieldEmpty: "Required field is empty",
	InvalidValue:       "Invalid value",

	// Problem store
	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	ProblemCorrupt:   "Problem data is corrupt",

	// Submission intake
	SubmissionNotFound:   "Submission not found",
	CodeEmpty:            "Source code is empty",
	CodeTooLarge:         "Source code is too large",
	LanguageNotSupported: "Programming language not supported",

	// Judge execution
	JudgeQueueFull:    "Judge queue is full, please try again later",
	JudgeSystemError:  "Judge system error",
	SandboxFailed:     "Sandbox failed to execute the program",
	WorkerReclaimed:   "Judge worker was forcibly reclaimed",
	CompilationFailed: "Compilation failed",

	// Contest & Ranking
	ContestNotFound:         "Contest not found",
	ContestNotStarted:       "Contest has not started yet",
	ContestEnded:            "Contest has ended",
	LeaderboardNotAvailable: "Leaderboard is not available",
	ReplayFailed:            "Failed to replay submission log",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == InvalidParams:
		return 400
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound,
		c == TestCaseNotFound, c == SubmissionNotFound, c == ContestNotFound:
		return 404
	case c == ContestNotStarted, c == ContestEnded:
		return 409
	case c >= 21000 && c < 22000: // validation
		return 400
	case c >= 23000 && c < 23100: // submission intake
		return 400
	case c == JudgeQueueFull:
		return 429
	case c == Timeout:
		return 504
	case c == ServiceUnavailable:
		return 503
	default:
		return 500
	}
}
