package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/savings"
	"solar-estimator/internal/site"
)

// ArrayQuery selects the panel model and sizing. Missing fields take the
// server defaults.
type ArrayQuery struct {
	Model            string   `form:"model" json:"model"`
	CapacityKW       *float64 `form:"capacity_kw" json:"capacity_kw"`
	PerformanceRatio *float64 `form:"performance_ratio" json:"performance_ratio"`
}

// WindowQuery selects the period. Without start/end it covers one local day,
// today unless date is set. A date-only end is inclusive.
type WindowQuery struct {
	Date        string `form:"date" json:"date"`
	Start       string `form:"start" json:"start"`
	End         string `form:"end" json:"end"`
	Granularity string `form:"granularity" json:"granularity"`
}

type EstimateRequest struct {
	site.Input
	ArrayQuery
	WindowQuery
	Rate         *float64 `form:"rate" json:"rate" binding:"omitempty,gt=0"`
	Currency     string   `form:"currency" json:"currency" binding:"omitempty,len=3,alpha"`
	Escalation   *float64 `form:"escalation_pct" json:"escalation_pct"`
	HorizonYears int      `form:"horizon_years" json:"horizon_years" binding:"omitempty,min=1,max=50"`
	InstallDate  string   `form:"install_date" json:"install_date"`
	Save         bool     `form:"save" json:"save"`
	Label        string   `form:"label" json:"label" binding:"max=64"`
}

type IrradianceRequest struct {
	site.Input
	WindowQuery
}

type StatisticsRequest struct {
	site.Input
	ArrayQuery
	Year int `form:"year" json:"year" binding:"omitempty,min=1900,max=2200"`
}

type MaintenanceRequest struct {
	InstallDate string `form:"install_date" binding:"required"`
	Reference   string `form:"reference"`
	Timezone    string `form:"timezone"`
}

type ResolveRequest struct {
	Address string `form:"address" binding:"required"`
}

type CO2Request struct {
	EnergyKWh *float64 `form:"energy_kwh" binding:"required,gte=0"`
}

// ListRequest filters stored estimates. From and To select a creation range
// instead of the newest Limit records.
type ListRequest struct {
	SiteKey string `form:"site_key"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
	From    string `form:"from"`
	To      string `form:"to"`
}

type StatsRequest struct {
	SiteKey string `form:"site_key" binding:"required"`
}

var tagNameOnce sync.Once

// useFormNames makes validation errors report request parameter names.
func useFormNames() {
	tagNameOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"form", "json"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
	})
}

// bind decodes the query string for GET and the body otherwise.
func bind(c *gin.Context, obj any) error {
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(obj)
	} else {
		err = c.ShouldBind(obj)
	}
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return apperrors.Invalid(fe.Field(), "failed %s=%s", fe.Tag(), fe.Param())
		}
		return apperrors.Invalid(fe.Field(), "failed %s", fe.Tag())
	}
	return apperrors.Invalid("request", "%v", err)
}

func (q WindowQuery) resolve(loc *time.Location, now time.Time) (irradiance.Window, irradiance.Granularity, error) {
	g := irradiance.Hour
	if q.Granularity != "" {
		var err error
		if g, err = irradiance.ParseGranularity(q.Granularity); err != nil {
			return irradiance.Window{}, "", err
		}
	}
	w, err := irradiance.ParseWindow(q.Date, q.Start, q.End, loc, now)
	if err != nil {
		return irradiance.Window{}, "", err
	}
	return w, g, nil
}

// tariff overrides base with the request's fields. Nil means none were given.
func (r EstimateRequest) tariff(base savings.Tariff) (*savings.Tariff, error) {
	if r.Rate == nil && r.Currency == "" && r.Escalation == nil {
		return nil, nil
	}
	t := base
	if r.Rate != nil {
		t.RatePerKWh = *r.Rate
	}
	if r.Currency != "" {
		t.Currency = strings.ToUpper(r.Currency)
	}
	if r.Escalation != nil {
		t.EscalationPct = *r.Escalation
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
