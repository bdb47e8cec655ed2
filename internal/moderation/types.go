package moderation

// CheckRequest is sent over moderation.check when a message needs content
// review by the standalone moderator service.
type CheckRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// CheckResult is the moderator's reply with the review outcome.
type CheckResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
	Term    string `json:"term"`
}
