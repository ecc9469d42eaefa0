package web

import (
	"fmt"
	"net/http"
)

type SportModeHandler struct {
	state *TrackerState
}

func NewSportModeHandler(state *TrackerState) *SportModeHandler {
	return &SportModeHandler{state: state}
}

// Toggle schedules a sport mode flip for the user. The flip is applied to
// the next position batch the user submits.
func (h *SportModeHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathId(r, "user_id")
	if !ok {
		httpError(w, http.StatusBadRequest, "the user_id must be a number")
		return
	}
	h.state.RequestToggle(uid)
	_, _ = fmt.Fprintf(w, "User %d added to sport mode toggle list", uid)
}
