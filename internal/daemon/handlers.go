package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mizanhasan/invoq/internal/drain"
	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/queue"
	"github.com/mizanhasan/invoq/internal/uds"
)

// PingResponse is returned by the ping command.
type PingResponse struct {
	PID    int  `json:"pid"`
	Online bool `json:"online"`
}

// StatusResponse is returned by the status command.
type StatusResponse struct {
	PID        int              `json:"pid"`
	Online     bool             `json:"online"`
	QueueDepth int              `json:"queue_depth"`
	Store      model.StoreStats `json:"store"`
}

// QueueListResponse is returned by the queue_list command.
type QueueListResponse struct {
	Entries []model.QueueEntry `json:"entries"`
}

type queueMoveParams struct {
	InvoiceID string `json:"invoice_id"`
	Index     int    `json:"index"`
}

type queueRemoveParams struct {
	InvoiceID string `json:"invoice_id"`
}

type onlineSetParams struct {
	Online bool `json:"online"`
}

// OnlineResponse is returned by online_get and online_set.
type OnlineResponse struct {
	Online bool `json:"online"`
}

func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", d.handlePing)
	d.server.Handle("status", d.handleStatus)
	d.server.Handle("queue_list", d.handleQueueList)
	d.server.Handle("queue_move", d.handleQueueMove)
	d.server.Handle("queue_remove", d.handleQueueRemove)
	d.server.Handle("drain", d.handleDrain)
	d.server.Handle("online_get", d.handleOnlineGet)
	d.server.Handle("online_set", d.handleOnlineSet)
}

func (d *Daemon) handlePing(req *uds.Request) *uds.Response {
	return uds.SuccessResponse(PingResponse{
		PID:    os.Getpid(),
		Online: d.online.Load(),
	})
}

func (d *Daemon) handleStatus(req *uds.Request) *uds.Response {
	stats, err := d.repo.Stats()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("load store: %v", err))
	}
	return uds.SuccessResponse(StatusResponse{
		PID:        os.Getpid(),
		Online:     d.online.Load(),
		QueueDepth: d.queue.Len(),
		Store:      stats,
	})
}

func (d *Daemon) handleQueueList(req *uds.Request) *uds.Response {
	entries := d.queue.Snapshot()
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	return uds.SuccessResponse(QueueListResponse{Entries: entries})
}

func (d *Daemon) handleQueueMove(req *uds.Request) *uds.Response {
	var params queueMoveParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.InvoiceID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invoice_id is required")
	}

	if err := d.queue.MoveTo(params.InvoiceID, params.Index); err != nil {
		if errors.Is(err, queue.ErrDrainInProgress) {
			return uds.ErrorResponse(uds.ErrCodeDrainInProgress, "queue is being drained, retry after it completes")
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}

	d.log(LogLevelInfo, "queue_move invoice=%s index=%d", params.InvoiceID, params.Index)
	return uds.SuccessResponse(nil)
}

func (d *Daemon) handleQueueRemove(req *uds.Request) *uds.Response {
	var params queueRemoveParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.InvoiceID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invoice_id is required")
	}

	if err := d.queue.Remove(params.InvoiceID); err != nil {
		if errors.Is(err, queue.ErrDrainInProgress) {
			return uds.ErrorResponse(uds.ErrCodeDrainInProgress, "queue is being drained, retry after it completes")
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}

	d.log(LogLevelInfo, "queue_remove invoice=%s", params.InvoiceID)
	return uds.SuccessResponse(nil)
}

func (d *Daemon) handleDrain(req *uds.Request) *uds.Response {
	if !d.online.Load() {
		return uds.ErrorResponse(uds.ErrCodeOffline, "daemon is offline, enable with: invoq online on")
	}

	report, err := d.runDrain()

	// The queue may have changed on disk while the drain latch was held.
	d.recompute()

	if err != nil {
		var storageErr *drain.StorageError
		switch {
		case errors.Is(err, queue.ErrDrainInProgress):
			return uds.ErrorResponse(uds.ErrCodeDrainInProgress, "a drain is already running")
		case errors.As(err, &storageErr):
			resp := uds.ErrorResponse(uds.ErrCodeStorage, storageErr.Error())
			if data, merr := json.Marshal(report); merr == nil {
				resp.Data = data
			}
			return resp
		default:
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
	}

	return uds.SuccessResponse(report)
}

func (d *Daemon) handleOnlineGet(req *uds.Request) *uds.Response {
	return uds.SuccessResponse(OnlineResponse{Online: d.online.Load()})
}

func (d *Daemon) handleOnlineSet(req *uds.Request) *uds.Response {
	var params onlineSetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}

	d.online.Store(params.Online)
	d.log(LogLevelInfo, "online_set online=%v", params.Online)
	return uds.SuccessResponse(OnlineResponse{Online: params.Online})
}
