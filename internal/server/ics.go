package server

import (
	"encoding/binary"
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// calendarUIDNamespace keeps event UIDs stable across exports of the same
// announcement.
var calendarUIDNamespace = uuid.MustParse("6fda1deb-16f7-4901-a3cb-eb65069c0db9")

// handleAnnouncementICS renders the current announcements as an iCalendar
// document. Public callers only see public announcements.
func (h *httpHandler) handleAnnouncementICS(c *gin.Context) {
	authenticated := isAuthenticated(c)
	entities := h.actions.CurrentAnnouncements(!authenticated)

	cal := ics.NewCalendar()
	cal.SetProductId("-//statusd//announcements//EN")
	cal.SetMethod(ics.MethodPublish)
	for _, entity := range entities {
		event := cal.AddEvent(calendarUID(entity.AID))
		event.SetSummary(entity.Note)
		event.SetStartAt(time.Unix(entity.From, 0).UTC())
		event.SetEndAt(time.Unix(entity.To, 0).UTC())
	}

	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(cal.Serialize()))
}

func calendarUID(aid uint64) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], aid)
	return uuid.NewSHA1(calendarUIDNamespace, buf[:]).String()
}
