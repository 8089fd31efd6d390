package main

import "time"

// RawEvent is the transport-supplied notification shape. It is ephemeral and
// never persisted verbatim; the coordinator normalizes it into a MessageRecord.
type RawEvent struct {
	ExternalID          string    `json:"externalId"`
	Direction           string    `json:"direction"`
	ParticipantRaw      string    `json:"participantRaw"`
	SenderPhone         string    `json:"senderPhone,omitempty"`
	ConversationID      string    `json:"conversationId"`
	IsGroupConversation bool      `json:"isGroupConversation"`
	ContentType         string    `json:"contentType"`
	Body                string    `json:"body,omitempty"`
	Caption             string    `json:"caption,omitempty"`
	QuotedEventID       string    `json:"quotedEventId,omitempty"`
	IsForwarded         bool      `json:"isForwarded,omitempty"`
	OccurredAt          time.Time `json:"occurredAt"`
	DisplayName         string    `json:"displayName,omitempty"`
}

// ResolvedIdentity is the resolver's best effort at a stable sender identity.
// An empty CanonicalPhone means the sender could not be resolved.
type ResolvedIdentity struct {
	CanonicalPhone   string `json:"canonicalPhone"`
	ResolutionMethod string `json:"resolutionMethod"`
	DisplayName      string `json:"displayName,omitempty"`
}

// Classification is the classifier's verdict for a single event.
type Classification struct {
	Category  string `json:"category"`
	AutoReply string `json:"autoReply,omitempty"`
	Action    string `json:"action"`
}

// MessageRecord is the persisted entity, owned by the message store.
type MessageRecord struct {
	MessageID     string    `db:"message_id" json:"messageId"`
	Direction     string    `db:"direction" json:"direction"`
	From          string    `db:"from_addr" json:"from"`
	To            string    `db:"to_addr" json:"to"`
	ContentType   string    `db:"content_type" json:"contentType"`
	Body          string    `db:"body" json:"body,omitempty"`
	Caption       string    `db:"caption" json:"caption,omitempty"`
	OccurredAt    time.Time `db:"occurred_at" json:"occurredAt"`
	Status        string    `db:"status" json:"status"`
	IsGroup       bool      `db:"is_group" json:"isGroup"`
	GroupID       string    `db:"group_id" json:"groupId,omitempty"`
	Category      string    `db:"category" json:"category"`
	ResolvedPhone string    `db:"resolved_phone" json:"resolvedPhone,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// SearchFilters are independently optional predicates over stored messages.
// Zero values mean "no constraint".
type SearchFilters struct {
	Direction   string    `json:"direction,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Status      string    `json:"status,omitempty"`
	StartDate   time.Time `json:"startDate,omitempty"`
	EndDate     time.Time `json:"endDate,omitempty"`
	SearchText  string    `json:"searchText,omitempty"`
}

// IsEmpty reports whether no filter is set at all. Bulk deletes refuse to run
// against an empty filter set.
func (f SearchFilters) IsEmpty() bool {
	return f.Direction == "" && f.From == "" && f.To == "" &&
		f.ContentType == "" && f.Status == "" &&
		f.StartDate.IsZero() && f.EndDate.IsZero() && f.SearchText == ""
}

// SearchOptions control pagination and ordering.
type SearchOptions struct {
	Limit     int    `json:"limit,omitempty"`
	Skip      int    `json:"skip,omitempty"`
	SortOrder string `json:"sortOrder,omitempty"` // "asc" or "desc", default desc
}

// Statistics is an aggregate over the filtered message set.
type Statistics struct {
	Total              int64            `json:"total"`
	SentCount          int64            `json:"sentCount"`
	ReceivedCount      int64            `json:"receivedCount"`
	CountsByContentType map[string]int64 `json:"countsByContentType"`
}

// ExportSnapshot is the serialized result of an export request.
type ExportSnapshot struct {
	ExportedAt time.Time       `json:"exportedAt"`
	TotalCount int64           `json:"totalCount"`
	Filters    SearchFilters   `json:"filters"`
	Records    []MessageRecord `json:"records"`
}

// TransportResult is the transport's acknowledgment of a send.
type TransportResult struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Contact is a directory entry mapping a transport alias and phone to a name.
type Contact struct {
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name" json:"name"`
	Alias     string    `db:"alias" json:"alias,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
