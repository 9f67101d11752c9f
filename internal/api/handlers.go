package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/chat"
	"solar-estimator/internal/collector"
	"solar-estimator/internal/estimator"
	"solar-estimator/internal/inverter"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/maintenance"
	"solar-estimator/internal/site"
	"solar-estimator/internal/storage"
)

func (s *Server) fail(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperrors.Kind(err)})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured", "kind": "unavailable"})
}

func (s *Server) healthHandler(c *gin.Context) {
	tracked := 0
	if s.collector != nil {
		tracked = len(s.collector.Targets())
	}
	breakers := make(map[string]string, len(s.upstreams))
	for _, u := range s.upstreams {
		breakers[u.Name()] = u.State()
	}
	body := gin.H{
		"status":        "healthy",
		"source":        s.estimator.SourceName(),
		"collecting":    s.collector != nil && s.collector.IsCollecting(),
		"tracked_sites": tracked,
		"history":       s.history != nil,
		"chat":          s.chat.Enabled(),
		"upstreams":     breakers,
		"timestamp":     s.now(),
	}
	if s.broker != nil {
		body["mqtt"] = s.broker.IsConnected()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) panelsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.catalog.All())
}

func (s *Server) array(q ArrayQuery) (site.ArrayConfig, error) {
	model := q.Model
	if model == "" {
		model = s.defaults.Model
	}
	panel, err := s.catalog.Lookup(model)
	if err != nil {
		return site.ArrayConfig{}, err
	}
	capacity := s.defaults.CapacityKW
	if q.CapacityKW != nil {
		capacity = *q.CapacityKW
	}
	pr := s.defaults.PerformanceRatio
	if q.PerformanceRatio != nil {
		pr = *q.PerformanceRatio
	}
	return site.NewArrayConfig(panel, capacity, pr)
}

func (s *Server) resolveHandler(c *gin.Context) {
	var req ResolveRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	st, err := site.Normalize(c.Request.Context(), site.Input{Address: req.Address}, s.resolver)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":   st.Address,
		"latitude":  st.Latitude,
		"longitude": st.Longitude,
	})
}

type estimateResponse struct {
	ID string `json:"id,omitempty"`
	*estimator.Result
}

func (s *Server) estimateHandler(c *gin.Context) {
	var req EstimateRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if req.Save && s.history == nil {
		unavailable(c, "estimate history")
		return
	}

	ctx := c.Request.Context()
	st, err := site.Normalize(ctx, req.Input, s.resolver)
	if err != nil {
		s.fail(c, err)
		return
	}
	array, err := s.array(req.ArrayQuery)
	if err != nil {
		s.fail(c, err)
		return
	}
	loc := st.Location()
	window, granularity, err := req.WindowQuery.resolve(loc, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	tariff, err := req.tariff(s.estimator.DefaultTariff())
	if err != nil {
		s.fail(c, err)
		return
	}
	var install time.Time
	if req.InstallDate != "" {
		if install, err = irradiance.ParseTime("install_date", req.InstallDate, loc); err != nil {
			s.fail(c, err)
			return
		}
	}

	res, err := s.estimator.Estimate(ctx, estimator.Request{
		Site:         st,
		Array:        array,
		Window:       window,
		Granularity:  granularity,
		Tariff:       tariff,
		HorizonYears: req.HorizonYears,
		InstallDate:  install,
		Reference:    s.now(),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := estimateResponse{Result: res}
	if req.Save {
		record, err := s.history.SaveEstimate(ctx, res, req.Label)
		if err != nil {
			s.fail(c, err)
			return
		}
		resp.ID = record.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) irradianceHandler(c *gin.Context) {
	var req IrradianceRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	st, err := site.Normalize(ctx, req.Input, s.resolver)
	if err != nil {
		s.fail(c, err)
		return
	}
	window, granularity, err := req.WindowQuery.resolve(st.Location(), s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	samples, err := s.estimator.Irradiance(ctx, st, window, granularity)
	if err != nil {
		s.fail(c, err)
		return
	}

	var total float64
	for _, sm := range samples {
		total += sm.Irradiance
	}
	c.JSON(http.StatusOK, gin.H{
		"site":             st,
		"window":           window,
		"granularity":      granularity,
		"source":           s.estimator.SourceName(),
		"samples":          samples,
		"total_kwh_m2":     total,
		"irradiance_count": len(samples),
	})
}

func (s *Server) statisticsHandler(c *gin.Context) {
	var req StatisticsRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	st, err := site.Normalize(ctx, req.Input, s.resolver)
	if err != nil {
		s.fail(c, err)
		return
	}
	array, err := s.array(req.ArrayQuery)
	if err != nil {
		s.fail(c, err)
		return
	}
	stats, err := s.estimator.Statistics(ctx, st, array, req.Year)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) maintenanceHandler(c *gin.Context) {
	var req MaintenanceRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = site.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.fail(c, apperrors.Invalid("timezone", "unknown timezone %q", tz))
		return
	}
	install, err := irradiance.ParseTime("install_date", req.InstallDate, loc)
	if err != nil {
		s.fail(c, err)
		return
	}
	ref := s.now().In(loc)
	if req.Reference != "" {
		if ref, err = irradiance.ParseTime("reference", req.Reference, loc); err != nil {
			s.fail(c, err)
			return
		}
	}

	events, err := s.estimator.Schedule(install)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := gin.H{"install_date": install.Format("2006-01-02"), "events": events}
	if next, ok := maintenance.Next(events, ref); ok {
		days, _ := maintenance.DaysUntilNext(events, ref)
		resp["next"] = next
		resp["days_until_next"] = days
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) co2Handler(c *gin.Context) {
	var req CO2Request
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	em, err := s.estimator.Emissions(*req.EnergyKWh)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, em)
}

func (s *Server) chatHandler(c *gin.Context) {
	if !s.chat.Enabled() {
		unavailable(c, "chat")
		return
	}
	var req chat.Request
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.chat.Send(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listEstimatesHandler(c *gin.Context) {
	if s.history == nil {
		unavailable(c, "estimate history")
		return
	}
	var req ListRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	var records []storage.EstimateRecord
	var err error
	if req.From != "" || req.To != "" {
		var w irradiance.Window
		if w, err = irradiance.ParseWindow("", req.From, req.To, time.UTC, s.now()); err != nil {
			s.fail(c, err)
			return
		}
		records, err = s.history.GetEstimatesByRange(c.Request.Context(), req.SiteKey, w.Start, w.End)
	} else {
		records, err = s.history.ListEstimates(c.Request.Context(), req.SiteKey, req.Limit)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []storage.EstimateRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) estimateStatsHandler(c *gin.Context) {
	if s.history == nil {
		unavailable(c, "estimate history")
		return
	}
	var req StatsRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	stats, err := s.history.GetSiteStats(c.Request.Context(), req.SiteKey)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getEstimateHandler(c *gin.Context) {
	if s.history == nil {
		unavailable(c, "estimate history")
		return
	}
	record, res, err := s.history.GetEstimate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": record, "result": res})
}

func (s *Server) latestSitesHandler(c *gin.Context) {
	if s.collector == nil {
		c.JSON(http.StatusOK, []collector.Snapshot{})
		return
	}
	if name := c.Query("name"); name != "" {
		snap, ok := s.collector.Latest(name)
		if !ok {
			s.fail(c, fmt.Errorf("tracked site %q: %w", name, apperrors.ErrNotFound))
			return
		}
		c.JSON(http.StatusOK, snap)
		return
	}
	c.JSON(http.StatusOK, s.collector.LatestAll())
}

func (s *Server) inverterHandler(c *gin.Context) {
	if s.meter == nil {
		unavailable(c, "inverter")
		return
	}
	reading, err := s.meter.Read(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reading":   reading,
		"producing": inverter.Producing(reading.RunningState),
	})
}
