package domain

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	FarmerID  string    `json:"farmerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Sensor struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Location string    `json:"location"`
	Status   string    `json:"status"`
	AddedAt  time.Time `json:"addedAt"`
}

const SensorConnected = "connected"

// Point is one sample of a vitals history series.
type Point struct {
	Day   int     `json:"day"`
	Value float64 `json:"value"`
}

type VitalsHistory struct {
	Moisture    []Point `json:"moisture"`
	Temperature []Point `json:"temperature"`
	Humidity    []Point `json:"humidity"`
	Rainfall    []Point `json:"rainfall"`
}

type Vitals struct {
	Moisture    float64       `json:"moisture"`
	Temperature float64       `json:"temperature"`
	Humidity    float64       `json:"humidity"`
	Rainfall    float64       `json:"rainfall"`
	CropStatus  string        `json:"cropStatus"`
	LastUpdated time.Time     `json:"lastUpdated"`
	History     VitalsHistory `json:"history"`
}

type AlertSeverity string

const (
	SeverityCritical  AlertSeverity = "critical"
	SeverityAttention AlertSeverity = "attention"
	SeveritySafe      AlertSeverity = "safe"
)

func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityAttention, SeveritySafe:
		return true
	}
	return false
}

type Alert struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Action      string        `json:"action"`
	Time        time.Time     `json:"time"`
	Dismissed   bool          `json:"dismissed"`
}

type ClaimStatus string

const (
	ClaimSubmitted  ClaimStatus = "submitted"
	ClaimVerified   ClaimStatus = "verified"
	ClaimInProgress ClaimStatus = "in-progress"
	ClaimCompleted  ClaimStatus = "completed"
	ClaimRejected   ClaimStatus = "rejected"
)

// Valid reports whether s is one of the known claim states.
// Transitions between states are not restricted.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimSubmitted, ClaimVerified, ClaimInProgress, ClaimCompleted, ClaimRejected:
		return true
	}
	return false
}

// Terminal reports whether no further processing is expected.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimCompleted || s == ClaimRejected
}

type Claim struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Crop        string      `json:"crop"`
	Event       string      `json:"event"`
	Status      ClaimStatus `json:"status"`
	Amount      float64     `json:"amount"`
	Description string      `json:"description"`
	Date        time.Time   `json:"date"`
	Progress    int         `json:"progress"`
	HasProof    bool        `json:"hasProof"`
	ProofHash   string      `json:"proofHash,omitempty"`
}

// ClaimSummary aggregates the claims of one user.
type ClaimSummary struct {
	Count         int     `json:"count"`
	TotalReceived float64 `json:"totalReceived"`
	TotalPending  float64 `json:"totalPending"`
}

type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofAnchored ProofStatus = "anchored"
	ProofFailed   ProofStatus = "failed"
)

// Proof records the tamper-evidence digest of a filed claim.
type Proof struct {
	ClaimID     string      `json:"claimId"`
	UserID      string      `json:"userId"`
	Hash        string      `json:"hash"`
	Status      ProofStatus `json:"status"`
	ObjectKey   string      `json:"objectKey,omitempty"`
	AnchoredAt  *time.Time  `json:"anchoredAt,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	DownloadURL string      `json:"downloadUrl,omitempty"`
}

type ChatMessage struct {
	ID          string    `json:"id"`
	UserMessage string    `json:"userMessage"`
	BotResponse string    `json:"botResponse"`
	Timestamp   time.Time `json:"timestamp"`
}

// MarketRecord is one commodity price row as published by the upstream API.
type MarketRecord struct {
	State       string `json:"state"`
	District    string `json:"district"`
	Market      string `json:"market"`
	Commodity   string `json:"commodity"`
	Variety     string `json:"variety"`
	Grade       string `json:"grade"`
	ArrivalDate string `json:"arrival_date"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
	ModalPrice  string `json:"modal_price"`
}

type WeatherNow struct {
	Temp      float64 `json:"temp"`
	Humidity  float64 `json:"humidity"`
	Condition string  `json:"condition"`
}

type WeatherDay struct {
	Day       string  `json:"day"`
	Temp      float64 `json:"temp"`
	Condition string  `json:"condition"`
	Rain      float64 `json:"rain"`
}

type WeatherAlert struct {
	Type     string        `json:"type"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

type Weather struct {
	Location string         `json:"location"`
	Current  WeatherNow     `json:"current"`
	Forecast []WeatherDay   `json:"forecast"`
	Alerts   []WeatherAlert `json:"alerts"`
}
