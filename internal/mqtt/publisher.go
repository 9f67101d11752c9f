package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"solar-estimator/internal/estimator"
	"solar-estimator/internal/irradiance"
)

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool
	log         *zap.Logger
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
}

func NewPublisher(cfg PublisherConfig, log *zap.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return &Publisher{enabled: false, log: log}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newPublisher(client, cfg.TopicPrefix, log), nil
}

func newPublisher(client mqtt.Client, prefix string, log *zap.Logger) *Publisher {
	return &Publisher{client: client, topicPrefix: strings.TrimSuffix(prefix, "/"), enabled: true, log: log}
}

// Publish sends one tracked site's latest estimate: a retained JSON status
// plus one plain topic per headline figure.
func (p *Publisher) Publish(name string, res *estimator.Result) error {
	if !p.enabled {
		return nil
	}
	id := topicID(name)

	values := map[string]any{
		"energy_today":     round(res.TotalEnergy, 3),
		"savings_today":    round(res.Savings.WindowSavings, 2),
		"savings_lifetime": round(res.Savings.Total, 2),
		"annual_energy":    round(res.Savings.AnnualEnergy, 1),
		"co2_avoided":      round(res.Emissions.CO2Kg, 3),
		"panel_count":      res.PanelCount,
	}
	if res.DaysUntilNext != nil {
		values["maintenance_days"] = *res.DaysUntilNext
	}
	if peak, ok := peakYield(res); ok {
		values["peak_power"] = round(peak, 3)
	}

	var errs []error
	for metric, value := range values {
		topic := fmt.Sprintf("%s/%s/%s", p.topicPrefix, id, metric)
		token := p.client.Publish(topic, 0, false, fmt.Sprintf("%v", value))
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
			errs = append(errs, err)
		}
	}

	statusJSON, err := json.Marshal(status{
		Site:          name,
		Latitude:      res.Site.Latitude,
		Longitude:     res.Site.Longitude,
		CapacityKW:    res.Array.CapacityKW,
		EnergyToday:   res.TotalEnergy,
		SavingsToday:  res.Savings.WindowSavings,
		Currency:      res.Savings.Currency,
		DaysUntilNext: res.DaysUntilNext,
		Source:        res.Source,
		GeneratedAt:   res.GeneratedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	statusTopic := fmt.Sprintf("%s/%s/status", p.topicPrefix, id)
	token := p.client.Publish(statusTopic, 0, true, statusJSON)
	token.Wait()
	if err := token.Error(); err != nil {
		errs = append(errs, fmt.Errorf("failed to publish status: %w", err))
	}

	return errors.Join(errs...)
}

type status struct {
	Site          string    `json:"site"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	CapacityKW    float64   `json:"capacity_kw"`
	EnergyToday   float64   `json:"energy_today_kwh"`
	SavingsToday  float64   `json:"savings_today"`
	Currency      string    `json:"currency"`
	DaysUntilNext *int      `json:"days_until_next,omitempty"`
	Source        string    `json:"source"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// PublishHomeAssistantDiscovery announces the sensors of every tracked site.
func (p *Publisher) PublishHomeAssistantDiscovery(names []string) error {
	if !p.enabled {
		return nil
	}

	sensors := []struct {
		Name        string
		ID          string
		Unit        string
		DeviceClass string
	}{
		{"Expected Energy Today", "energy_today", "kWh", "energy"},
		{"Expected Peak Power", "peak_power", "kW", "power"},
		{"Savings Today", "savings_today", "", "monetary"},
		{"Lifetime Savings", "savings_lifetime", "", "monetary"},
		{"Annual Energy", "annual_energy", "kWh", "energy"},
		{"CO2 Avoided", "co2_avoided", "kg", "weight"},
		{"Days Until Maintenance", "maintenance_days", "d", "duration"},
	}

	var errs []error
	for _, name := range names {
		id := topicID(name)
		for _, sensor := range sensors {
			discoveryTopic := fmt.Sprintf("homeassistant/sensor/solar_%s/%s/config", id, sensor.ID)

			config := map[string]any{
				"name":        sensor.Name,
				"unique_id":   fmt.Sprintf("solar_%s_%s", id, sensor.ID),
				"state_topic": fmt.Sprintf("%s/%s/%s", p.topicPrefix, id, sensor.ID),
				"device": map[string]any{
					"identifiers":  []string{"solar_estimator_" + id},
					"name":         "Solar estimate " + name,
					"manufacturer": "solar-estimator",
					"model":        "Estimate",
				},
			}
			if sensor.Unit != "" {
				config["unit_of_measurement"] = sensor.Unit
			}
			if sensor.DeviceClass != "" {
				config["device_class"] = sensor.DeviceClass
			}

			payload, _ := json.Marshal(config)
			token := p.client.Publish(discoveryTopic, 0, true, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}

// peakYield is the highest hourly energy, i.e. the expected peak power in kW.
func peakYield(res *estimator.Result) (float64, bool) {
	if res.Granularity != irradiance.Hour || len(res.Yield) == 0 {
		return 0, false
	}
	peak := 0.0
	for _, y := range res.Yield {
		peak = math.Max(peak, y.Energy)
	}
	return peak, true
}

func topicID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
