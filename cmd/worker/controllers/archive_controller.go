package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	common "github.com/frontierwars/session-engine/pkg/domain"
	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	out "github.com/frontierwars/session-engine/pkg/domain/session/ports/out"
)

// ArchiveController implements POST /api/archive_singleplayer_game: a singleplayer
// client never runs through this worker's turn pump, so it submits its own finished
// SessionRecord directly to the configured sink.
type ArchiveController struct {
	sink out.ArchiveSink
}

func NewArchiveController(sink out.ArchiveSink) *ArchiveController {
	return &ArchiveController{sink: sink}
}

func (c *ArchiveController) ArchiveSingleplayerGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var record entities.SessionRecord
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			writeAPIError(w, common.ErrBadRequest)
			return
		}

		if record.SessionID == uuid.Nil {
			writeAPIError(w, common.NewAPIError(http.StatusBadRequest, "INVALID_RECORD", "session_id is required"))
			return
		}
		if record.Config.GameType != entities.GameTypeSingleplayer {
			writeAPIError(w, common.NewAPIError(http.StatusBadRequest, "NOT_SINGLEPLAYER", "this endpoint only accepts singleplayer records"))
			return
		}

		if err := c.sink.Archive(r.Context(), record); err != nil {
			writeAPIError(w, common.NewAPIError(http.StatusInternalServerError, "ARCHIVE_FAILED", err.Error()))
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
