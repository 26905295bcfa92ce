package core

// error_messages.go maps pipeline errors to messages shown to users.
//
// # Error Codes Reference
//
// Users can quote the code to support for faster diagnosis.
//
// # Input Layout (LAYOUT001)
//
//	LAYOUT001 - Unexpected layout: a file does not have the expected rows or columns
//	            Action: Upload the unmodified export; check required column names
//	            Patterns: "unexpected input layout"
//
// # Pipeline (PIPE001-PIPE003)
//
//	PIPE001 - Sync invariant: linked station times went backwards
//	          Action: Check the TimeStamp columns of the station logs
//	          Patterns: "sync invariant violated"
//
//	PIPE002 - Timeout: a stage ran longer than allowed
//	          Action: Try again with smaller files or later
//	          Patterns: "timed out", "context deadline exceeded"
//
//	PIPE003 - Stage failed: any other stage failure
//	          Action: Contact support with the job ID
//	          Patterns: "pipeline failed at step"
//
// # Files (FILE001-FILE004)
//
//	FILE001 - File too large        Patterns: "file too large"
//	FILE002 - Invalid file type     Patterns: "invalid file"
//	FILE003 - Unreadable file       Patterns: "invalid csv", "invalid xlsx", "empty file"
//	FILE004 - Missing files         Patterns: "no file provided", "missing input file"
//
// # Jobs (JOB001-JOB003)
//
//	JOB001 - Job not found          Patterns: "job not found"
//	JOB002 - File not found         Patterns: "file not found", "run the earlier stages first"
//	JOB003 - Busy                   Patterns: "too many pipeline runs"
//
// # Lot Search (LOT001-LOT002)
//
//	LOT001 - No search terms        Patterns: "no lot search terms"
//	LOT002 - No match               Patterns: "no matching lot found"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests     Patterns: "rate limit"
//
// # Default (ERR000)
//
// Fallback when nothing matches; the technical error is in the logs.
//
// # Pattern Matching
//
// Patterns are matched case-insensitively with strings.Contains against the
// full error chain text. The first match wins, so a stage error wrapping a
// layout problem reports LAYOUT001 rather than PIPE003.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"error"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code,omitempty"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is ordered specific before general.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Input layout and pipeline integrity
	// =========================================================================
	{
		pattern: "unexpected input layout",
		msg: UserMessage{
			Message: "A file does not have the expected layout",
			Action:  "Upload the unmodified exports and check the required column names",
			Code:    "LAYOUT001",
		},
	},
	{
		pattern: "sync invariant violated",
		msg: UserMessage{
			Message: "Linked station times are out of order",
			Action:  "Check the TimeStamp columns of the cleaner, developer and etcher logs",
			Code:    "PIPE001",
		},
	},

	// =========================================================================
	// Files
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the upload size limit",
			Action:  "Remove unused rows or sheets and upload again",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid file",
		msg: UserMessage{
			Message: "Invalid file type",
			Action:  "Only .xlsx and .csv files are allowed",
			Code:    "FILE002",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "A CSV file could not be read",
			Action:  "Save the file as comma-separated UTF-8 text",
			Code:    "FILE003",
		},
	},
	{
		pattern: "invalid xlsx",
		msg: UserMessage{
			Message: "An Excel file could not be read",
			Action:  "Save the workbook as .xlsx and upload again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "A file is empty",
			Action:  "Upload files with a header row and data rows",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No files selected",
			Action:  "Select the five input files and upload them together",
			Code:    "FILE004",
		},
	},
	{
		pattern: "missing input file",
		msg: UserMessage{
			Message: "Required input files are missing",
			Action:  "Upload raw_data.xlsx, tbl_etching_batch.csv, CL_Cleaner.csv, CL_Developer.csv and CL_Etcher4.csv",
			Code:    "FILE004",
		},
	},

	// =========================================================================
	// Jobs
	// =========================================================================
	{
		pattern: "job not found",
		msg: UserMessage{
			Message: "Job not found",
			Action:  "Check the job ID or upload the files again",
			Code:    "JOB001",
		},
	},
	{
		pattern: "run the earlier stages first",
		msg: UserMessage{
			Message: "Data not found",
			Action:  "Please run the pipeline first",
			Code:    "JOB002",
		},
	},
	{
		pattern: "file not found",
		msg: UserMessage{
			Message: "File not found",
			Action:  "Run the pipeline first or check the file name",
			Code:    "JOB002",
		},
	},
	{
		pattern: "too many pipeline runs",
		msg: UserMessage{
			Message: "The system is busy processing other jobs",
			Action:  "Please wait a moment and try again",
			Code:    "JOB003",
		},
	},

	// =========================================================================
	// Lot search
	// =========================================================================
	{
		pattern: "no lot search terms",
		msg: UserMessage{
			Message: "Please provide at least one LOT (A or B) to search",
			Action:  "Enter a LOT A or LOT B value",
			Code:    "LOT001",
		},
	},
	{
		pattern: "no matching lot found",
		msg: UserMessage{
			Message: "No records found for this LOT",
			Action:  "Check the spelling or search for part of the LOT code",
			Code:    "LOT002",
		},
	},

	// =========================================================================
	// Timeouts, rate limiting and generic stage failures
	// =========================================================================
	{
		pattern: "timed out",
		msg: UserMessage{
			Message: "Processing took too long",
			Action:  "Try again later or with smaller files",
			Code:    "PIPE002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Processing took too long",
			Action:  "Try again later or with smaller files",
			Code:    "PIPE002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "pipeline failed at step",
		msg: UserMessage{
			Message: "The pipeline failed",
			Action:  "Contact support with the job ID",
			Code:    "PIPE003",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. The first
// matching pattern wins; ERR000 is returned when none matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders MapError's result as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern, so its mapped
// message can be shown instead of a generic one.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
