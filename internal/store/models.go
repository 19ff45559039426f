// Package store provides SQLite-backed persistence for the memory engine:
// connection lifecycle, the forward-only migration ladder, schema integrity
// verification, and CRUD for every domain row. It is the sole owner of
// persistent state; services mutate through this package's API only.
package store

// EntityType enumerates the recognized kinds of a named real-world thing.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProject      EntityType = "project"
	EntityConcept      EntityType = "concept"
	EntityLocation     EntityType = "location"
)

// Entity is a named real-world thing: a person, organization, project,
// concept, or location. (type, name) is unique among non-deleted rows,
// compared as stored: names that differ only in case are separate rows. Aliases map many-to-one to an entity via entity_aliases.
type Entity struct {
	ID          int64
	Name        string
	Type        EntityType
	Description string
	Importance  float64
	CreatedAt   string
	UpdatedAt   string
	DeletedAt   *string
	Aliases     []string // populated by reads that join entity_aliases
}

// MemoryType enumerates the recognized kinds of a content-bearing record.
type MemoryType string

const (
	MemoryFact        MemoryType = "fact"
	MemoryCommitment  MemoryType = "commitment"
	MemoryLearning    MemoryType = "learning"
	MemoryObservation MemoryType = "observation"
	MemoryPreference  MemoryType = "preference"
	MemoryPattern     MemoryType = "pattern"
)

// VerificationStatus tracks whether a memory's factual content has been
// confirmed, refuted, or is still pending review.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRefuted  VerificationStatus = "refuted"
)

// Memory is a content-bearing record: a fact, commitment, learning,
// observation, preference, or pattern. ContentHash is unique per
// workspace (one database per workspace); invalidated memories are never
// returned by default recall.
type Memory struct {
	ID                 int64
	Content            string
	Type               MemoryType
	Importance         float64
	Confidence         float64
	ContentHash        string
	CreatedAt          string
	UpdatedAt          string
	LastAccessed       string
	AccessCount        int
	VerificationStatus VerificationStatus
	VerifiedAt         *string
	InvalidatedAt      *string
	AggregatedFrom     string // newline-joined contents absorbed into this row by a merge
	MergedInto         *int64 // set on an absorbed row, pointing at its survivor
}

// MemoryEntityRole is an open vocabulary of link roles; "about" and
// "authored-by" are the well-known members.
type MemoryEntityRole string

const (
	RoleAbout      MemoryEntityRole = "about"
	RoleAuthoredBy MemoryEntityRole = "authored-by"
)

// MemoryEntity links a Memory to an Entity with a role.
// (memory_id, entity_id, role) is unique.
type MemoryEntity struct {
	MemoryID int64
	EntityID int64
	Role     MemoryEntityRole
}

// RelationshipType is an open vocabulary plus the well-known relationship
// kinds named in the spec.
type RelationshipType string

const (
	RelWorksWith           RelationshipType = "works_with"
	RelWorksAt             RelationshipType = "works_at"
	RelClientOf            RelationshipType = "client_of"
	RelReportsTo           RelationshipType = "reports_to"
	RelManages             RelationshipType = "manages"
	RelInvestedIn          RelationshipType = "invested_in"
	RelPartnerAt           RelationshipType = "partner_at"
	RelAdvisorTo           RelationshipType = "advisor_to"
	RelKnows               RelationshipType = "knows"
	RelCollaboratesOn      RelationshipType = "collaborates_on"
	RelColleagues          RelationshipType = "colleagues"
	RelCommunityConnection RelationshipType = "community_connection"
	RelLikelyConnected     RelationshipType = "likely_connected"
)

// Relationship is a typed, directed, bi-temporal edge between two
// entities. At most one row with InvalidAt == nil may exist per
// (source, target, relationship_type); superseding closes the prior row.
type Relationship struct {
	ID               int64
	SourceEntityID   int64
	TargetEntityID   int64
	RelationshipType RelationshipType
	Strength         float64
	ValidAt          string
	InvalidAt        *string
	Direction        string
	CreatedAt        string
	UpdatedAt        string
}

// Episode is a session summary: buffered turns plus a narrative.
type Episode struct {
	ID        int64
	SessionID string
	Narrative string
	StartAt   string
	EndAt     string
}

// Turn is a buffered conversational turn within a session (table `messages`
// per spec §6).
type Turn struct {
	ID         int64
	SessionID  string
	Role       string
	Content    string
	CreatedAt  string
	Summarized bool
}

// PatternType enumerates the kinds of derived observation ConsolidateService
// detects.
type PatternType string

const (
	PatternRelationship  PatternType = "relationship"
	PatternBehavioral    PatternType = "behavioral"
	PatternCommunication PatternType = "communication"
	PatternScheduling    PatternType = "scheduling"
)

// Pattern is a derived observation about the user or a relationship.
type Pattern struct {
	ID               int64
	PatternType      PatternType
	Name             string
	Confidence       float64
	FirstObservedAt  string
	LastConfirmedAt  string
	AggregationCount int
	IsActive         bool
}

// ReflectionType enumerates the kinds of user-approved, slow-decay
// learnings about how to work with the user.
type ReflectionType string

const (
	ReflectionObservation ReflectionType = "observation"
	ReflectionPattern     ReflectionType = "pattern"
	ReflectionLearning    ReflectionType = "learning"
	ReflectionQuestion    ReflectionType = "question"
)

// Reflection is distinct from a Memory of a fact about the world: it is a
// learning about how to work with the user, with a much slower decay rate.
type Reflection struct {
	ID               int64
	ReflectionType   ReflectionType
	Content          string
	AboutEntity      *int64
	Importance       float64
	Confidence       float64
	DecayRate        float64
	AggregationCount int
	FirstObservedAt  string
	LastConfirmedAt  string
}

// Document is filed source material: a transcript, email, or file.
type Document struct {
	ID         int64
	SourceType string
	Filename   string
	Content    string
	Summary    string
	CreatedAt  string
}

// SchemaMigration records a single applied migration's version and when it
// was applied.
type SchemaMigration struct {
	Version   int
	AppliedAt string
}

// MemoryEventType enumerates the kinds of audit events recorded against a
// memory row, grounding the provenance chain `trace()` reads.
type MemoryEventType string

const (
	EventAdd        MemoryEventType = "add"
	EventUpdate     MemoryEventType = "update"
	EventMerge      MemoryEventType = "merge"
	EventDecay      MemoryEventType = "decay"
	EventInvalidate MemoryEventType = "invalidate"
	EventReinforce  MemoryEventType = "reinforce"
)

// MemoryEvent is an append-only audit row.
type MemoryEvent struct {
	ID        int64
	MemoryID  int64
	EventType MemoryEventType
	Detail    string
	CreatedAt string
}

// RecallLogEntry records one recall() call for activity counters and
// future tuning of the ranking weights.
type RecallLogEntry struct {
	ID          int64
	Query       string
	ResultCount int
	CreatedAt   string
}

// PendingEmbedding names a row awaiting a re-embed once the Embedder
// becomes available again.
type PendingEmbedding struct {
	OwnerKind string // "memory" | "entity"
	OwnerID   int64
	QueuedAt  string
}
