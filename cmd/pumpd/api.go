package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/console"
	"github.com/pumpbench/pumpd/pump"
)

// statePeriod bounds how often /events/state subscribers see a
// frame; within that, frames are sent only on change.
const statePeriod = 100 * time.Millisecond

type api struct {
	http.Handler
	coord  console.Commander
	logger *zap.Logger
	sse    *sse.Server
	up     websocket.Upgrader

	lastSent string
	lastAt   time.Duration
	sent     bool
}

func newAPI(coord console.Commander, staticDir string, logger *zap.Logger) *api {
	r := mux.NewRouter()
	a := &api{
		Handler: r,
		coord:   coord,
		logger:  logger,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
		up: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r.HandleFunc("/api/dispense", a.intentHandler("dispense")).Methods("POST")
	r.HandleFunc("/api/recipe", a.intentHandler("recipe")).Methods("POST")
	r.HandleFunc("/api/weight", a.intentHandler("weight")).Methods("POST")
	r.HandleFunc("/api/estop", a.intentHandler("estop")).Methods("POST")
	r.HandleFunc("/api/reset", a.intentHandler("reset")).Methods("POST")
	r.HandleFunc("/api/resume", a.intentHandler("resume")).Methods("POST")
	r.HandleFunc("/api/tare", a.intentHandler("tare")).Methods("POST")
	r.HandleFunc("/api/state", a.state).Methods("GET")
	r.HandleFunc("/api/log", a.runLog).Methods("GET")
	r.HandleFunc("/ws", a.ws)
	r.PathPrefix("/events/").Handler(a.sse)
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return a
}

// Tick runs on the cooperative loop and republishes the snapshot to
// event-stream subscribers.
func (a *api) Tick(now time.Duration) {
	if a.sent && now-a.lastAt < statePeriod {
		return
	}
	a.lastAt = now
	data, err := json.Marshal(a.coord.Snapshot())
	if err != nil {
		a.logger.Error("marshal snapshot", zap.Error(err))
		return
	}
	if a.sent && string(data) == a.lastSent {
		return
	}
	a.sent = true
	a.lastSent = string(data)
	a.sse.SendMessage("/events/state", sse.SimpleMessage(a.lastSent))
}

// intentRequest is the JSON body shared by the POST endpoints and
// the websocket. Cmd is only used on the websocket.
type intentRequest struct {
	Cmd    string  `json:"cmd,omitempty"`
	Axis   string  `json:"axis,omitempty"`
	Volume float64 `json:"volume_ml,omitempty"`
	Grams  float64 `json:"grams,omitempty"`
	Flow   float64 `json:"flow_ml_min,omitempty"`
	Recipe int     `json:"recipe"`
	Reason string  `json:"reason,omitempty"`
}

func (r intentRequest) axisID() (pump.AxisID, error) {
	if r.Axis == "" {
		return pump.AxisX, nil
	}
	if len(r.Axis) == 1 {
		if a, ok := pump.AxisFromTag(r.Axis[0]); ok {
			return a, nil
		}
	}
	return 0, fmt.Errorf("bad axis %q", r.Axis)
}

func (a *api) apply(req intentRequest) error {
	switch req.Cmd {
	case "dispense":
		axis, err := req.axisID()
		if err != nil {
			return err
		}
		return a.coord.Dispense(pump.DispenseCommand{
			Axis:      axis,
			VolumeML:  req.Volume,
			FlowMLMin: req.Flow,
		})
	case "recipe":
		return a.coord.RunRecipe(req.Recipe)
	case "weight":
		axis, err := req.axisID()
		if err != nil {
			return err
		}
		return a.coord.WeightTarget(axis, req.Grams, req.Flow)
	case "estop":
		reason := req.Reason
		if reason == "" {
			reason = "http"
		}
		a.coord.EStop(reason)
		return nil
	case "reset":
		a.coord.Reset()
		return nil
	case "resume":
		a.coord.Resume()
		return nil
	case "tare":
		a.coord.Tare()
		return nil
	}
	return fmt.Errorf("unknown cmd %q", req.Cmd)
}

func (a *api) intentHandler(cmd string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var ir intentRequest
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&ir); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		ir.Cmd = cmd
		if err := a.apply(ir); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) state(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.coord.Snapshot()); err != nil {
		a.logger.Error("encode state", zap.Error(err))
	}
}

func (a *api) runLog(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	entries := a.coord.RunLog()
	if entries == nil {
		entries = []pump.RunEntry{}
	}
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		a.logger.Error("encode log", zap.Error(err))
	}
}

// ws accepts intent messages and answers each with ok or an error;
// state flows over /events/state.
func (a *api) ws(w http.ResponseWriter, req *http.Request) {
	conn, err := a.up.Upgrade(w, req, nil)
	if err != nil {
		a.logger.Warn("ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var ir intentRequest
		if err := conn.ReadJSON(&ir); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug("ws read", zap.Error(err))
			}
			return
		}
		resp := map[string]interface{}{"ok": true}
		if err := a.apply(ir); err != nil {
			resp = map[string]interface{}{"ok": false, "error": err.Error()}
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}
