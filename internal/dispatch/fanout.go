package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pushbridge/pushbridge/internal/apps"
	"github.com/pushbridge/pushbridge/internal/push"
	"github.com/pushbridge/pushbridge/internal/store"
)

// Fanout delivers one push per device registered to the account, optionally
// narrowed to a single device id. Devices are attempted in parallel and the
// result list preserves storage discovery order. Tokens the vendor declared
// expired are pruned after all devices have been attempted, and their entry
// reports 200.
func (d *Dispatcher) Fanout(ctx context.Context, account, device string, preq *push.Request) *Outcome {
	requestID := fmt.Sprintf("%s-%s-%s", preq.Event, account, preq.CallID)

	records, err := d.store.Get(ctx, account)
	if err != nil {
		slog.Error("token storage lookup failed", "request_id", requestID,
			"account", account, "error", err)
		return &Outcome{Code: 500, Description: "Internal error: storage", Data: ""}
	}
	if len(records) == 0 {
		if err := d.store.RemoveAccount(ctx, account); err != nil {
			slog.Error("removing empty account failed", "account", account, "error", err)
		}
		return &Outcome{Code: 404, Description: "user not found",
			Data: map[string]string{"account": account}}
	}

	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	type target struct {
		app *apps.App
		req *push.Request
	}
	var targets []target
	for _, key := range keys {
		rec := records[key]
		if device != "" && rec.DeviceID != device {
			continue
		}
		merged := mergeRecord(preq, rec)
		app, verr := d.Validate(merged)
		if verr != nil {
			slog.Error("fanout request invalid", "request_id", requestID,
				"device_id", rec.DeviceID, "error", verr.Message)
			return &Outcome{Code: 400, Description: verr.Message, Data: ""}
		}
		targets = append(targets, target{app, merged})
	}
	if len(targets) == 0 {
		return &Outcome{Code: 404, Description: "device not found",
			Data: map[string]string{"device": device}}
	}

	results := make([]*push.Result, len(targets))
	var wg sync.WaitGroup
	for i, tgt := range targets {
		i, tgt := i, tgt
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.Dispatch(ctx, tgt.app, tgt.req, requestID)
		}()
	}
	wg.Wait()

	code := 200
	for i, res := range results {
		if res.Expired() {
			req := targets[i].req
			slog.Debug("removing expired device", "account", account,
				"app_id", req.AppID, "device_id", req.DeviceID)
			if err := d.store.Remove(ctx, account, req.AppID, req.DeviceID); err != nil {
				slog.Error("removing expired device failed", "account", account,
					"app_id", req.AppID, "device_id", req.DeviceID, "error", err)
			}
			res.Code = 200
		}
		code = res.Code
	}

	return &Outcome{Code: code, Description: "push notification responses", Data: results}
}

// mergeRecord combines the caller's request with one stored device record.
// The record supplies the device identity, the caller supplies the event
// being announced. Wake-up class events go to the background token when the
// device registered one.
func mergeRecord(preq *push.Request, rec store.DeviceRecord) *push.Request {
	silent := rec.Silent
	merged := &push.Request{
		AppID:           rec.AppID,
		Platform:        rec.Platform,
		Token:           rec.Token,
		DeviceID:        rec.DeviceID,
		Silent:          &silent,
		Event:           preq.Event,
		CallID:          preq.CallID,
		SipFrom:         preq.SipFrom,
		SipTo:           preq.SipTo,
		FromDisplayName: preq.FromDisplayName,
		MediaType:       preq.MediaType,
		Reason:          preq.Reason,
		Badge:           preq.Badge,
	}
	if (merged.Event == push.EventCancel || merged.Event == push.EventMessage) && rec.BackgroundToken != "" {
		merged.Token = rec.BackgroundToken
	}
	return merged
}
