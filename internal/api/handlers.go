package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/internal/action"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/provision"
)

const dogKey = "dog"

type dogResponse struct {
	ID   dog.ID `json:"id"`
	Name string `json:"name"`
}

type sensorResponse struct {
	Sensor      dog.Suffix     `json:"sensor"`
	On          bool           `json:"on"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

type actionResponse struct {
	Action   string   `json:"action"`
	Dog      dog.ID   `json:"dog"`
	OK       bool     `json:"ok"`
	Steps    int      `json:"steps"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	Notified bool     `json:"notified"`
}

type provisionResponse struct {
	RunID           string   `json:"run_id"`
	Dog             dog.ID   `json:"dog"`
	OK              bool     `json:"ok"`
	Created         int      `json:"created"`
	Skipped         int      `json:"skipped"`
	Failed          int      `json:"failed"`
	SuccessRate     float64  `json:"success_rate"`
	FailedEntities  []string `json:"failed_entities,omitempty"`
	CriticalMissing []string `json:"critical_missing,omitempty"`
	SkippedDomains  []string `json:"skipped_domains,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
}

func errorBody(err error) gin.H {
	return gin.H{"error": err.Error()}
}

func (s *Server) health(c *gin.Context) {
	checks := make(map[string]string, len(s.opts.Health))
	healthy := true
	for name, check := range s.opts.Health {
		if err := check(); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	code, state := http.StatusOK, "ok"
	if !healthy {
		code, state = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{"status": state, "checks": checks, "dogs": len(s.dogs)})
}

func (s *Server) listDogs(c *gin.Context) {
	dogs := make([]dogResponse, 0, len(s.dogs))
	for _, d := range s.dogs {
		dogs = append(dogs, dogResponse{ID: d.ID, Name: d.Name})
	}
	c.JSON(http.StatusOK, dogs)
}

// resolveDog aborts with 404 unless the :dog parameter names a configured dog.
func (s *Server) resolveDog(c *gin.Context) {
	id := dog.ID(c.Param("dog"))
	for _, d := range s.dogs {
		if d.ID == id {
			c.Set(dogKey, d)
			c.Next()
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown dog " + string(id)})
}

func currentDog(c *gin.Context) dog.Dog {
	return c.MustGet(dogKey).(dog.Dog)
}

func (s *Server) dogStatus(c *gin.Context) {
	d := currentDog(c)

	assessments := s.statuses.Assessments(d.ID)
	sensors := make([]sensorResponse, 0, len(assessments))
	for sensor, a := range assessments {
		sensors = append(sensors, sensorResponse{
			Sensor:      sensor,
			On:          a.On,
			Attributes:  a.Attributes,
			EvaluatedAt: a.EvaluatedAt,
		})
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].Sensor < sensors[j].Sensor })

	c.JSON(http.StatusOK, gin.H{"dog": dogResponse{ID: d.ID, Name: d.Name}, "sensors": sensors})
}

func (s *Server) pressAction(c *gin.Context) {
	d := currentDog(c)
	name := c.Param("action")

	result, err := s.presser.Press(c.Request.Context(), d, name)
	if errors.Is(err, action.ErrUnknownAction) {
		c.JSON(http.StatusNotFound, errorBody(err))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}

	code := http.StatusOK
	if !result.OK() {
		code = http.StatusBadGateway
	}
	c.JSON(code, actionResponse{
		Action:   result.Action,
		Dog:      result.Dog,
		OK:       result.OK(),
		Steps:    result.Steps,
		Failed:   result.Failed,
		Errors:   result.Errors,
		Notified: result.Notified,
	})
}

func (s *Server) provision(c *gin.Context) {
	d := currentDog(c)

	if !s.startProvisioning(d.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": "provisioning already running for " + d.ID.String()})
		return
	}
	defer s.finishProvisioning(d.ID)

	result, err := s.provisioner.Provision(c.Request.Context(), d)
	if err != nil {
		log.Error().Err(err).Str("dog", d.ID.String()).Msg("Provisioning via API failed")
		code := http.StatusBadGateway
		if errors.Is(err, provision.ErrInvalidDog) {
			code = http.StatusBadRequest
		}
		c.JSON(code, errorBody(err))
		return
	}

	c.JSON(http.StatusOK, newProvisionResponse(result))
}

func (s *Server) startProvisioning(id dog.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provisioning[id] {
		return false
	}
	s.provisioning[id] = true
	return true
}

func (s *Server) finishProvisioning(id dog.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.provisioning, id)
}

func newProvisionResponse(r *provision.Result) provisionResponse {
	created, skipped, failed := r.Totals()
	return provisionResponse{
		RunID:           r.RunID,
		Dog:             r.Dog.ID,
		OK:              r.OK(),
		Created:         created,
		Skipped:         skipped,
		Failed:          failed,
		SuccessRate:     r.SuccessRate(),
		FailedEntities:  r.FailedEntities(),
		CriticalMissing: r.CriticalMissing,
		SkippedDomains:  r.SkippedDomains,
		DurationSeconds: r.Duration().Seconds(),
	}
}
