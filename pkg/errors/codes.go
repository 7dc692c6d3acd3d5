package errors

import (
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// Codes follow the "<MODULE>_<NNN>" convention.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeStorageError       ErrorCode = "COMMON_014"
	ErrCodeMessagingError     ErrorCode = "COMMON_015"
	ErrCodeInvalidState       ErrorCode = "COMMON_017"
	ErrCodeCacheMiss          ErrorCode = "COMMON_018"
)

// Molecule parsing and graph error codes.
const (
	ErrCodeMoleculeInvalidSMILES   ErrorCode = "MOL_001"
	ErrCodeMoleculeInvalidMolBlock ErrorCode = "MOL_002"
	ErrCodeMoleculeInvalidGraph    ErrorCode = "MOL_003"
	ErrCodeKekulizationFailed      ErrorCode = "MOL_004"
	ErrCodeFingerprintFailed       ErrorCode = "MOL_007"
)

// R-group decomposition error codes.
const (
	ErrCodeInvalidCore            ErrorCode = "RGD_001"
	ErrCodeNoMatch                ErrorCode = "RGD_002"
	ErrCodeAlreadyFinalized       ErrorCode = "RGD_003"
	ErrCodeNotFinalized           ErrorCode = "RGD_004"
	ErrCodeInvalidOption          ErrorCode = "RGD_005"
	ErrCodeOptimizationIncomplete ErrorCode = "RGD_006"
	ErrCodeJobInvalid             ErrorCode = "RGD_007"
)

// Short aliases used at call sites.
const (
	CodeOK                     = ErrorCode("OK")
	CodeUnknown                = ErrorCode("UNKNOWN")
	CodeInternal               = ErrCodeInternal
	CodeInvalidParam           = ErrCodeBadRequest
	CodeNotFound               = ErrCodeNotFound
	CodeConflict               = ErrCodeConflict
	CodeInvalidState           = ErrCodeInvalidState
	CodeDatabaseError          = ErrCodeDatabaseError
	CodeCacheError             = ErrCodeCacheError
	CodeCacheMiss              = ErrCodeCacheMiss
	CodeStorageError           = ErrCodeStorageError
	CodeMessagingError         = ErrCodeMessagingError
	CodeSerialization          = ErrCodeSerialization
	CodeParseFailed            = ErrCodeMoleculeInvalidSMILES
	CodeInvalidCore            = ErrCodeInvalidCore
	CodeNoMatch                = ErrCodeNoMatch
	CodeAlreadyFinalized       = ErrCodeAlreadyFinalized
	CodeNotFinalized           = ErrCodeNotFinalized
	CodeInvalidOption          = ErrCodeInvalidOption
	CodeOptimizationIncomplete = ErrCodeOptimizationIncomplete
)

// ErrorCodeMessage maps codes to their default message.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "operation timed out",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeStorageError:       "object storage error",
	ErrCodeMessagingError:     "messaging error",
	ErrCodeInvalidState:       "operation not valid in current state",
	ErrCodeCacheMiss:          "cache miss",

	ErrCodeMoleculeInvalidSMILES:   "invalid SMILES",
	ErrCodeMoleculeInvalidMolBlock: "invalid molblock",
	ErrCodeMoleculeInvalidGraph:    "invalid molecular graph",
	ErrCodeKekulizationFailed:      "cannot kekulize aromatic system",
	ErrCodeFingerprintFailed:       "fingerprint generation failed",

	ErrCodeInvalidCore:            "invalid core",
	ErrCodeNoMatch:                "molecule matches no registered core",
	ErrCodeAlreadyFinalized:       "decomposition already processed",
	ErrCodeNotFinalized:           "decomposition not processed yet",
	ErrCodeInvalidOption:          "invalid decomposition option",
	ErrCodeOptimizationIncomplete: "some molecules kept no assignment",
	ErrCodeJobInvalid:             "invalid decomposition job",
}

// retryable lists codes for which a worker should retry before dead-lettering.
var retryable = map[ErrorCode]bool{
	ErrCodeServiceUnavailable: true,
	ErrCodeTimeout:            true,
	ErrCodeDatabaseError:      true,
	ErrCodeCacheError:         true,
	ErrCodeStorageError:       true,
	ErrCodeMessagingError:     true,
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsRetryable reports whether a failure with this code is transient.
func IsRetryable(code ErrorCode) bool {
	return retryable[code]
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
