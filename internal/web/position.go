package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/mustafaturan/bus/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/tesou/internal/events"
	"nuha.dev/tesou/internal/geocode"
	"nuha.dev/tesou/internal/store"
	"nuha.dev/tesou/internal/util"
)

type PositionHandler struct {
	store    *store.Store
	state    *TrackerState
	geocoder *geocode.Client
	bus      *bus.Bus
	validate *validator.Validate
	clock    clockwork.Clock
	logger   zerolog.Logger
}

func NewPositionHandler(st *store.Store, state *TrackerState, geocoder *geocode.Client,
	b *bus.Bus, validate *validator.Validate, clock clockwork.Clock) *PositionHandler {
	h := &PositionHandler{store: st, state: state, geocoder: geocoder, bus: b, validate: validate, clock: clock}
	h.logger = log.With().Str("module", "positions").Logger()
	return h
}

// decodeBatch accepts either a JSON array of positions or a single object,
// which older trackers still send.
func decodeBatch(r io.Reader) ([]store.NewPosition, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var batch []store.NewPosition
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var single store.NewPosition
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []store.NewPosition{single}, nil
}

func (h *PositionHandler) nowMillis() int64 {
	return h.clock.Now().UnixNano() / 1e6
}

func (h *PositionHandler) Create(w http.ResponseWriter, r *http.Request) {
	batch, err := decodeBatch(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(batch) == 0 {
		httpError(w, http.StatusBadRequest, "empty position batch")
		return
	}
	now := h.nowMillis()
	userId := batch[0].UserId
	for i := range batch {
		if err := h.validate.Struct(&batch[i]); err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		batch[i].Normalize(now)
		if batch[i].UserId != userId {
			httpError(w, http.StatusBadRequest, "positions in a batch must share the user_id")
			return
		}
	}
	h.insert(r.Context(), w, batch, true)
}

// CreateFromCid builds a position out of a cell tower observation, falling
// back to the OpenCellID database when the device had no location for the
// tower.
func (h *PositionHandler) CreateFromCid(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathId(r, "uid")
	if !ok {
		httpError(w, http.StatusBadRequest, "the id must be a number")
		return
	}
	cell := &geocode.CellId{}
	if err := json.NewDecoder(r.Body).Decode(cell); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := store.NewPosition{
		UserId:       uid,
		Source:       fmt.Sprintf("Cell Id (%s)", cell.NetworkType),
		BatteryLevel: cell.BatteryLevel,
		Time:         h.nowMillis(),
	}
	if h.state.RecentlyUpdated(p.UserId, p.Time) {
		httpError(w, http.StatusConflict, "there is already a recorded position in the same second")
		return
	}
	if cell.Lat != -1 {
		p.Latitude = float64(cell.Lat / 1296000)
		p.Longitude = float64(cell.Long / 2592000)
	} else {
		lat, lon, err := h.geocoder.Locate(r.Context(), cell)
		if err != nil {
			httpError(w, http.StatusNotFound, err.Error())
			return
		}
		p.Latitude = lat
		p.Longitude = lon
	}
	h.insert(r.Context(), w, []store.NewPosition{p}, false)
}

// insert runs the shared tail of both create paths: the duplicate-second
// check, the pending sport mode toggle, the database write and the broadcast
// of the newest row.
func (h *PositionHandler) insert(ctx context.Context, w http.ResponseWriter, batch []store.NewPosition, applyToggle bool) {
	userId := batch[0].UserId
	if applyToggle {
		if h.state.RecentlyUpdated(userId, batch[0].Time) {
			httpError(w, http.StatusConflict, "there is already a recorded position in the same second")
			return
		}
		if h.state.SwitchingMode(userId) {
			for i := range batch {
				batch[i].SportMode = !batch[i].SportMode
			}
		}
	}
	created, err := h.store.CreatePositions(ctx, batch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if applyToggle {
		h.state.ConsumeToggle(userId)
	}
	h.state.SetLastUpdate(userId, created.Time)

	payload, err := json.Marshal(created)
	if err != nil {
		panic(err)
	}
	if err := h.bus.Emit(ctx, events.TopicPositionCreated, events.PositionCreated{UserId: userId, Payload: payload}); err != nil {
		h.logger.Error().Err(err).Msg("could not publish position")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n"))
}

func (h *PositionHandler) Read(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "oid")
	if !ok {
		httpError(w, http.StatusBadRequest, "the id must be a number")
		return
	}
	p, err := h.store.GetPosition(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	util.JsonWrite(w, p)
}

// ReadFilter lists positions oldest first. A user_id parameter restricts the
// listing to that user; an unparseable one is ignored.
func (h *PositionHandler) ReadFilter(w http.ResponseWriter, r *http.Request) {
	var userId *int32
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 32); err == nil {
			id := int32(v)
			userId = &id
		}
	}
	list, err := h.store.ListPositions(r.Context(), userId)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	util.JsonWrite(w, list)
}

func (h *PositionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "oid")
	if !ok {
		httpError(w, http.StatusBadRequest, "the id must be a number")
		return
	}
	np := &store.NewPosition{}
	if err := json.NewDecoder(r.Body).Decode(np); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(np); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	np.Normalize(h.nowMillis())
	p, err := h.store.UpdatePosition(r.Context(), id, np)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	util.JsonWrite(w, p)
}

func (h *PositionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "oid")
	if !ok {
		httpError(w, http.StatusBadRequest, "the id must be a number")
		return
	}
	if err := h.store.DeletePosition(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	_, _ = fmt.Fprintf(w, "Deleted object with id: %d", id)
}

func (h *PositionHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAllPositions(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	_, _ = w.Write([]byte("Deleted all objects"))
}
