package models

// InstanceJob asks the worker to provision a WhatsApp bridge instance
// for a freshly paid account.
type InstanceJob struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
	Phone  string `json:"phone"`
	Reason string `json:"reason"` // "checkout", "admin"
}
