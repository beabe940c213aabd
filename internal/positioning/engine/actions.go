package engine

import (
	"context"
	"errors"
	"fmt"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/alerts/notify"
	"beacon-guard/internal/bridge"
	registry "beacon-guard/internal/registry/domain"
)

var errNoBridge = fmt.Errorf("%w: training service not configured", ErrNotInitialized)

// Train asks the training service to train a tracked device. The mac is
// checked before any request is made.
func (e *Engine) Train(ctx context.Context, mac string) (bridge.Response, error) {
	if e == nil || e.bridge == nil {
		return bridge.Response{}, errNoBridge
	}
	mac = registry.NormalizeMAC(mac)
	if mac == "" {
		return bridge.Response{}, fmt.Errorf("%w: mac required", ErrValidation)
	}
	var checkErr error
	if err := e.do(ctx, func() { checkErr = e.checkTrainable(mac) }); err != nil {
		return bridge.Response{}, err
	}
	if checkErr != nil {
		return bridge.Response{}, checkErr
	}

	resp, err := e.bridge.Train(ctx, mac)
	if err != nil {
		e.bridgeFailed(ctx, "train", mac, err)
		return bridge.Response{}, err
	}
	message := resp.Message
	if message == "" {
		message = fmt.Sprintf("Training initiated for %s", mac)
	}
	if err := e.do(ctx, func() { e.dispatch(mac, message, alerts.KindTrainingInitiated) }); err != nil {
		return resp, err
	}
	return resp, nil
}

// Refresh asks the training service to reload its devices and folds the
// returned target macs into the target set.
func (e *Engine) Refresh(ctx context.Context) (bridge.Response, []string, error) {
	if e == nil || e.bridge == nil {
		return bridge.Response{}, nil, errNoBridge
	}
	resp, err := e.bridge.Refresh(ctx)
	if err != nil {
		e.bridgeFailed(ctx, "refresh", "", err)
		return bridge.Response{}, nil, err
	}
	message := resp.Message
	if message == "" {
		message = "Devices refreshed"
	}
	var targets []string
	err = e.do(ctx, func() {
		if e.snapshot != nil && resp.TargetMACs != nil {
			e.setTargets(resp.TargetMACs, e.cfg.ReplaceTargetsOnRefresh)
		}
		targets = e.targetList()
		e.dispatch("", message, alerts.KindDevicesRefreshed)
	})
	if err != nil {
		return resp, nil, err
	}
	return resp, targets, nil
}

func (e *Engine) checkTrainable(mac string) error {
	if !e.initialized() {
		return ErrNotInitialized
	}
	if d := e.table.get(mac); d == nil || !d.target {
		return fmt.Errorf("%w: %s is not tracked", ErrValidation, mac)
	}
	return nil
}

// bridgeFailed logs the failure and pushes an informational notice.
func (e *Engine) bridgeFailed(ctx context.Context, action, mac string, err error) {
	e.logger.Printf("engine: bridge %s error mac=%s err=%v", action, mac, err)
	message := fmt.Sprintf("Training service %s failed: %v", action, err)
	var bErr *bridge.Error
	if errors.As(err, &bErr) && bErr.Message != "" {
		message = fmt.Sprintf("Training service %s failed: %s", action, bErr.Message)
	}
	_ = e.do(ctx, func() {
		e.push(notify.Notification{Kind: alerts.KindBridgeError, MAC: mac, Message: message, Timestamp: e.clock.Now()})
	})
}
