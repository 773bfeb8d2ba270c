// Package jobs carries the background side effects dispatched after
// workflow transitions commit: certificate rendering, status notifications
// and the reopening-window expiry sweep.
package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeCertificate renders the approval certificate for a request.
	TaskTypeCertificate = "certificate:generate"
	// TaskTypeNotifyStatus notifies a subject of a workflow status change.
	TaskTypeNotifyStatus = "notify:status"
	// TaskTypeReopeningExpiry closes reopened periods whose window passed.
	TaskTypeReopeningExpiry = "periods:close-expired"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// CertificatePayload names the approved request to render.
type CertificatePayload struct {
	RequestID uuid.UUID `json:"request_id"`
}

// NewCertificateTask constructs a certificate-generation task.
func NewCertificateTask(requestID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(CertificatePayload{RequestID: requestID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCertificate, data), nil
}

// NotifyStatusPayload names the entity whose status changed.
type NotifyStatusPayload struct {
	Entity string    `json:"entity"`
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// NewNotifyStatusTask constructs a status-notification task.
func NewNotifyStatusTask(payload NotifyStatusPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifyStatus, data), nil
}

// NewReopeningExpiryTask constructs the periodic expiry sweep task.
func NewReopeningExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskTypeReopeningExpiry, nil)
}
