package server

import (
	"encoding/json"
	"net/http"
)

// adminConfig 可热更新的房间参数；POST 时只更新给出的字段
type adminConfig struct {
	MaxDeltaPerTick    *float64 `json:"maxDeltaPerTick,omitempty"`
	SimulateDelayMinMs *int     `json:"simulateDelayMinMs,omitempty"`
	SimulateDelayMaxMs *int     `json:"simulateDelayMaxMs,omitempty"`
	SimulateDropProb   *float64 `json:"simulateDropProb,omitempty"`
}

// HandleAdminConfig 提供房间配置的读取与更新（热更新基本规则）
// GET /admin/config?room=room-1  返回当前配置
// POST /admin/config?room=room-1 以 JSON 载荷更新部分字段
func (m *Manager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	roomID := roomParam(r)
	room, err := m.GetOrCreateRoom(roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		maxDelta := room.MaxDelta()
		ns := room.NetSim().Config()
		writeJSON(w, adminConfig{
			MaxDeltaPerTick:    &maxDelta,
			SimulateDelayMinMs: &ns.DelayMinMs,
			SimulateDelayMaxMs: &ns.DelayMaxMs,
			SimulateDropProb:   &ns.DropProb,
		})
	case http.MethodPost:
		var body adminConfig
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		// 复用配置校验规则，全部通过后再一次性生效
		cfg := m.cfg
		cfg.MaxDeltaPerTick = room.MaxDelta()
		cfg.NetSim = room.NetSim().Config()
		if body.MaxDeltaPerTick != nil {
			cfg.MaxDeltaPerTick = *body.MaxDeltaPerTick
		}
		if body.SimulateDelayMinMs != nil {
			cfg.NetSim.DelayMinMs = *body.SimulateDelayMinMs
		}
		if body.SimulateDelayMaxMs != nil {
			cfg.NetSim.DelayMaxMs = *body.SimulateDelayMaxMs
		}
		if body.SimulateDropProb != nil {
			cfg.NetSim.DropProb = *body.SimulateDropProb
		}
		if err := cfg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		room.setMaxDelta(cfg.MaxDeltaPerTick)
		room.NetSim().Set(cfg.NetSim)
		writeJSON(w, map[string]any{"ok": true})
		m.log.Infof("config updated: room=%s maxDelta=%.2f delay=[%d,%d] drop=%.2f",
			roomID, cfg.MaxDeltaPerTick, cfg.NetSim.DelayMinMs, cfg.NetSim.DelayMaxMs, cfg.NetSim.DropProb)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=room-1
func (m *Manager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	roomID := roomParam(r)
	room, ok := m.Room(roomID)
	if !ok {
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"room":    roomID,
		"tick":    room.TickSeq(),
		"players": room.PlayerCount(),
		"metrics": room.Metrics().Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
