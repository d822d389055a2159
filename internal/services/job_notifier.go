package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/realtime"
)

type JobNotifier interface {
	JobCreated(job *types.JobRun)
	JobProgress(job *types.JobRun, stage string, progress int, message string)
	JobFailed(job *types.JobRun, stage string, errorMessage string)
	JobDone(job *types.JobRun)
}

type jobNotifier struct {
	emit Emitter
}

func NewJobNotifier(emit Emitter) JobNotifier {
	return &jobNotifier{emit: emit}
}

func (n *jobNotifier) send(event realtime.Event, data map[string]any) {
	if n == nil || n.emit == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.Message{
		Channel: realtime.ChannelJobs,
		Event:   event,
		Data:    data,
	})
}

func (n *jobNotifier) JobCreated(job *types.JobRun) {
	n.send(realtime.EventJobCreated, map[string]any{"job": job})
}

func (n *jobNotifier) JobProgress(job *types.JobRun, stage string, progress int, message string) {
	n.send(realtime.EventJobProgress, map[string]any{
		"job_id":   safeJobID(job),
		"job_type": safeJobType(job),
		"stage":    stage,
		"progress": progress,
		"message":  message,
		"job":      job,
	})
}

func (n *jobNotifier) JobFailed(job *types.JobRun, stage string, errorMessage string) {
	n.send(realtime.EventJobFailed, map[string]any{
		"job_id":   safeJobID(job),
		"job_type": safeJobType(job),
		"stage":    stage,
		"error":    errorMessage,
		"job":      job,
	})
}

func (n *jobNotifier) JobDone(job *types.JobRun) {
	n.send(realtime.EventJobDone, map[string]any{
		"job_id":   safeJobID(job),
		"job_type": safeJobType(job),
		"job":      job,
	})
}

func safeJobID(job *types.JobRun) uuid.UUID {
	if job == nil {
		return uuid.Nil
	}
	return job.ID
}

func safeJobType(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.JobType
}
