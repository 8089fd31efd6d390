package main

// Message direction values
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message status values
const (
	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Resolution methods, one per resolver tier
const (
	ResolutionDirectChat     = "direct_chat"
	ResolutionSenderProvided = "sender_provided"
	ResolutionDirectory      = "directory"
	ResolutionDisplayName    = "display_name"
	ResolutionNumericAlias   = "numeric_alias"
	ResolutionUnresolved     = "unresolved"
)

// Message categories assigned by the classifier
const (
	CategoryCommand = "command"
	CategoryUrgent  = "urgent"
	CategorySpam    = "spam"
	CategoryReply   = "reply"
	CategoryForward = "forward"
	CategoryGroup   = "group"
	CategoryPrivate = "private"
	CategoryUnknown = "unknown"
)

// List of supported content types
var supportedContentTypes = []string{
	"text",
	"image",
	"video",
	"audio",
	"document",
	"location",
	"contact",
	"sticker",
	"reaction",
}

var supportedDirections = []string{
	DirectionInbound,
	DirectionOutbound,
}

var supportedStatuses = []string{
	StatusReceived,
	StatusSent,
	StatusDelivered,
	StatusFailed,
}

// Maps for quick validation
var (
	contentTypeMap map[string]bool
	directionMap   map[string]bool
	statusMap      map[string]bool
)

func init() {
	contentTypeMap = make(map[string]bool)
	for _, contentType := range supportedContentTypes {
		contentTypeMap[contentType] = true
	}
	directionMap = make(map[string]bool)
	for _, direction := range supportedDirections {
		directionMap[direction] = true
	}
	statusMap = make(map[string]bool)
	for _, status := range supportedStatuses {
		statusMap[status] = true
	}
}

// Auxiliary functions to validate enum values
func isValidContentType(contentType string) bool {
	return contentTypeMap[contentType]
}

func isValidDirection(direction string) bool {
	return directionMap[direction]
}

func isValidStatus(status string) bool {
	return statusMap[status]
}

// S3 Environment Variables Constants
const (
	S3_GLOBAL_ACCESS_KEY = "S3_ACCESS_KEY"
	S3_GLOBAL_SECRET_KEY = "S3_SECRET_KEY"
	S3_GLOBAL_ENDPOINT   = "S3_ENDPOINT"
	S3_GLOBAL_REGION     = "S3_REGION"
	S3_GLOBAL_BUCKET     = "S3_BUCKET"
)
