package database

// Source represents a monitored collection source.
type Source struct {
	ID               int64
	Name             string
	URL              string
	SourceType       string
	CredibilityScore float64
	BayesianAlpha    float64
	BayesianBeta     float64
	TruePositives    int
	FalsePositives   int
	Active           bool
}

// Keyword is a watched term with a scoring weight.
type Keyword struct {
	ID       int64
	Term     string
	Category string
	Weight   float64
	Active   bool
}

// Alert represents a normalized alert record.
type Alert struct {
	ID          int64
	SourceID    int64
	KeywordID   int64
	Title       string
	Content     *string
	URL         string
	MatchedTerm string
	Severity    string
	RiskScore   float64
	ORSScore    float64
	TASScore    float64
	ContentHash *string
	DuplicateOf *int64
	PublishedAt *string
	CreatedAt   *string
	Reviewed    bool

	// Populated by joined reads.
	SourceName string
	SourceType string
}

// ScoreAudit is the persisted breakdown of one scoring decision.
type ScoreAudit struct {
	AlertID           int64
	KeywordWeight     float64
	SourceCredibility float64
	FrequencyFactor   float64
	RecencyFactor     float64
	FinalScore        float64
}

// EntityLink ties an alert to an extracted entity or IOC.
type EntityLink struct {
	AlertID     int64
	EntityType  string
	EntityValue string
}

// POI is a protectee/person-of-interest record.
type POI struct {
	ID          int64
	Name        string
	Org         *string
	Role        *string
	Sensitivity int
	Active      bool
}

// POIAlias is a matchable alias for a POI.
type POIAlias struct {
	ID        int64
	POIID     int64
	Alias     string
	AliasType string
	Active    bool
}

// POIHit links an alert to a POI whose alias matched the alert text.
type POIHit struct {
	POIID      int64
	AlertID    int64
	MatchType  string
	MatchValue string
	MatchScore float64
	Context    *string

	// Populated by joined reads.
	POIName string
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalAlerts      int
	UnreviewedAlerts int
	Duplicates       int
	Sources          int
	ActiveKeywords   int
	POIs             int
	Entities         int
	POIHits          int
}
