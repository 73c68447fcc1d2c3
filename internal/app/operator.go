package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"markup-arb-bot/internal/alerts"
	"markup-arb-bot/internal/arb"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

// operatorParams is the audit-log view of the trading parameters.
type operatorParams struct {
	USDNotional             float64 `json:"usd_notional"`
	MarkupPercent           float64 `json:"markup_percent"`
	RequoteThresholdPercent float64 `json:"requote_threshold_percent"`
	MaxSlippagePercent      float64 `json:"max_slippage_percent"`
	NoHedgeMode             bool    `json:"no_hedge_mode"`
}

func paramsSnapshot(params arb.Parameters, noHedge bool) *operatorParams {
	return &operatorParams{
		USDNotional:             params.USDNotional,
		MarkupPercent:           params.MarkupPercent,
		RequoteThresholdPercent: params.RequoteThresholdPercent,
		MaxSlippagePercent:      params.MaxSlippagePercent,
		NoHedgeMode:             noHedge,
	}
}

type operatorAuditEvent struct {
	UpdateID     int64           `json:"update_id"`
	Time         time.Time       `json:"time"`
	Action       string          `json:"action"`
	Command      string          `json:"command"`
	UserID       int64           `json:"user_id"`
	Username     string          `json:"username,omitempty"`
	ChatID       int64           `json:"chat_id"`
	PausedBefore bool            `json:"paused_before"`
	PausedAfter  bool            `json:"paused_after"`
	ParamsBefore *operatorParams `json:"params_before,omitempty"`
	ParamsAfter  *operatorParams `json:"params_after,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(ctx), nil
	case "pause":
		before := a.coordinator.IsPaused()
		a.coordinator.SetPaused(true)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "pause",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  true,
		})
		if before {
			return "quoting already paused", nil
		}
		return "quoting paused; resting orders keep requoting and hedges still run", nil
	case "resume":
		before := a.coordinator.IsPaused()
		a.coordinator.SetPaused(false)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "resume",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  false,
		})
		if !before {
			return "quoting already active", nil
		}
		return "quoting resumed", nil
	case "params":
		return a.handleParamsCommand(ctx, args, meta)
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) handleParamsCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return a.paramsStatus(), nil
	}
	switch strings.ToLower(args[0]) {
	case "reset":
		beforeParams, beforeNoHedge := a.effectiveParams()
		base := arb.ParamsFromConfig(a.cfg.Trading)
		a.coordinator.StageParams(base, a.cfg.Trading.NoHedgeMode)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "params_reset",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			ParamsBefore: paramsSnapshot(beforeParams, beforeNoHedge),
			ParamsAfter:  paramsSnapshot(base, a.cfg.Trading.NoHedgeMode),
		})
		return "params reset staged; config values apply at the next cycle", nil
	case "set":
		overrides, err := parseParamOverrides(args[1:])
		if err != nil {
			return "", err
		}
		base, baseNoHedge := a.effectiveParams()
		next, noHedge, err := applyParamOverrides(base, baseNoHedge, overrides)
		if err != nil {
			return "", err
		}
		if !noHedge && !a.coordinator.HedgeConfigured() {
			return "", errors.New("no_hedge_mode=false requires a hedge gateway; restart with hedging configured")
		}
		a.coordinator.StageParams(next, noHedge)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "params_set",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			ParamsBefore: paramsSnapshot(base, baseNoHedge),
			ParamsAfter:  paramsSnapshot(next, noHedge),
		})
		return "params staged; they apply at the next cycle", nil
	default:
		return "", errors.New("unknown params command: use /params show|set|reset")
	}
}

// effectiveParams is what the next cycle will trade with: the staged
// override when one is pending, otherwise the live parameters.
func (a *App) effectiveParams() (arb.Parameters, bool) {
	if params, noHedge, ok := a.coordinator.StagedParams(); ok {
		return params, noHedge
	}
	status := a.coordinator.Status()
	return status.Params, status.NoHedge
}

func parseParamOverrides(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("params set requires key=value pairs")
	}
	out := make(map[string]string)
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid params setting: %s", arg)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		if key == "" || val == "" {
			return nil, fmt.Errorf("invalid params setting: %s", arg)
		}
		out[key] = val
	}
	return out, nil
}

func applyParamOverrides(base arb.Parameters, baseNoHedge bool, overrides map[string]string) (arb.Parameters, bool, error) {
	next := base
	noHedge := baseNoHedge
	for key, val := range overrides {
		switch key {
		case "usd_notional":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return arb.Parameters{}, false, fmt.Errorf("usd_notional: %w", err)
			}
			next.USDNotional = parsed
		case "markup_percent":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return arb.Parameters{}, false, fmt.Errorf("markup_percent: %w", err)
			}
			next.MarkupPercent = parsed
		case "requote_threshold_percent":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return arb.Parameters{}, false, fmt.Errorf("requote_threshold_percent: %w", err)
			}
			next.RequoteThresholdPercent = parsed
		case "max_slippage_percent":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return arb.Parameters{}, false, fmt.Errorf("max_slippage_percent: %w", err)
			}
			next.MaxSlippagePercent = parsed
		case "no_hedge_mode":
			parsed, err := strconv.ParseBool(val)
			if err != nil {
				return arb.Parameters{}, false, fmt.Errorf("no_hedge_mode: %w", err)
			}
			noHedge = parsed
		default:
			return arb.Parameters{}, false, fmt.Errorf("unknown params key: %s", key)
		}
	}
	if err := validateParamOverride(next); err != nil {
		return arb.Parameters{}, false, err
	}
	return next, noHedge, nil
}

func validateParamOverride(params arb.Parameters) error {
	if params.USDNotional <= 0 {
		return errors.New("usd_notional must be > 0")
	}
	if params.MarkupPercent <= 0 {
		return errors.New("markup_percent must be > 0")
	}
	if params.RequoteThresholdPercent <= 0 {
		return errors.New("requote_threshold_percent must be > 0")
	}
	if params.MaxSlippagePercent < 0 {
		return errors.New("max_slippage_percent must be >= 0")
	}
	return nil
}

func (a *App) operatorStatus(ctx context.Context) string {
	status := a.coordinator.Status()
	marketPrice := "n/a"
	if price, err := a.feed.Price(ctx); err == nil && price > 0 {
		marketPrice = fmt.Sprintf("%.8f", price)
	}
	resting := "none"
	if status.Resting.OrderID != "" {
		resting = fmt.Sprintf("id=%s limit=%.8f qty=%.8f ref=%.8f",
			status.Resting.OrderID, status.Resting.LimitPrice, status.Resting.Quantity, status.Resting.ReferencePrice)
	}
	lastFill := "none"
	if status.LastFill.OrderID != "" {
		lastFill = fmt.Sprintf("id=%s avg=%.8f qty=%.8f usd=%.2f",
			status.LastFill.OrderID, status.LastFill.AvgPrice, status.LastFill.ExecutedQty, status.LastFill.USDValue())
	}
	lines := []string{
		fmt.Sprintf("state: %s", status.State),
		fmt.Sprintf("paused: %t", status.Paused),
		fmt.Sprintf("symbol: %s", status.Symbol),
		fmt.Sprintf("market_price: %s", marketPrice),
		fmt.Sprintf("resting: %s", resting),
		fmt.Sprintf("last_fill: %s", lastFill),
		fmt.Sprintf("params: usd_notional=%.2f markup_percent=%.3f requote_threshold_percent=%.3f max_slippage_percent=%.3f no_hedge_mode=%t",
			status.Params.USDNotional, status.Params.MarkupPercent, status.Params.RequoteThresholdPercent,
			status.Params.MaxSlippagePercent, status.NoHedge),
		fmt.Sprintf("continuous: %t", status.Continuous),
	}
	if staged, stagedNoHedge, ok := a.coordinator.StagedParams(); ok {
		lines = append(lines, fmt.Sprintf("staged: usd_notional=%.2f markup_percent=%.3f requote_threshold_percent=%.3f max_slippage_percent=%.3f no_hedge_mode=%t",
			staged.USDNotional, staged.MarkupPercent, staged.RequoteThresholdPercent, staged.MaxSlippagePercent, stagedNoHedge))
	}
	return strings.Join(lines, "\n")
}

func (a *App) paramsStatus() string {
	status := a.coordinator.Status()
	lines := []string{
		fmt.Sprintf("params effective: usd_notional=%.2f markup_percent=%.3f requote_threshold_percent=%.3f max_slippage_percent=%.3f no_hedge_mode=%t",
			status.Params.USDNotional,
			status.Params.MarkupPercent,
			status.Params.RequoteThresholdPercent,
			status.Params.MaxSlippagePercent,
			status.NoHedge,
		),
	}
	if staged, noHedge, ok := a.coordinator.StagedParams(); ok {
		lines = append(lines, fmt.Sprintf("params staged: usd_notional=%.2f markup_percent=%.3f requote_threshold_percent=%.3f max_slippage_percent=%.3f no_hedge_mode=%t",
			staged.USDNotional,
			staged.MarkupPercent,
			staged.RequoteThresholdPercent,
			staged.MaxSlippagePercent,
			noHedge,
		))
	} else {
		lines = append(lines, "params staged: none")
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current cycle status",
		"/pause - defer new quote placement",
		"/resume - resume quote placement",
		"/params show - show active trading parameters",
		"/params set key=value ... - stage overrides (keys: usd_notional, markup_percent, requote_threshold_percent, max_slippage_percent, no_hedge_mode)",
		"/params reset - stage a return to the config file values",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, []byte(strconv.FormatInt(offset, 10)))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, payload)
}
