package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solar-estimator/config"
	"solar-estimator/internal/api"
	"solar-estimator/internal/chat"
	"solar-estimator/internal/collector"
	"solar-estimator/internal/estimator"
	"solar-estimator/internal/inverter"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/logging"
	"solar-estimator/internal/maintenance"
	"solar-estimator/internal/mqtt"
	"solar-estimator/internal/site"
	"solar-estimator/internal/storage"
	"solar-estimator/internal/yield"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "solar-estimator",
		Short: "Rooftop solar production and savings estimator",
		Long:  "Estimate solar irradiance, energy yield, savings and maintenance for a rooftop PV installation",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(estimateCmd())
	rootCmd.AddCommand(statisticsCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(calibrateCmd())
	rootCmd.AddCommand(testCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level, dev := cfg.Logging.Level, cfg.Logging.Development
	if verbose {
		level, dev = "debug", true
	}
	log, err := logging.New(level, dev)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the estimation service",
		Long:  "Start the API server, the tracked-site collector and the MQTT publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Enabled:     cfg.MQTT.Enabled,
			}, log)
			var pub collector.Publisher
			var broker api.Broker
			if err != nil {
				log.Warn("MQTT connection failed", zap.Error(err))
			} else {
				pub = publisher
				if cfg.MQTT.Enabled {
					broker = publisher
				}
				defer publisher.Close()
			}

			targets, err := a.targets(ctx)
			if err != nil {
				return err
			}
			if pub != nil && cfg.MQTT.Enabled && cfg.MQTT.Discovery {
				names := make([]string, len(targets))
				for i, t := range targets {
					names[i] = t.Name
				}
				if err := publisher.PublishHomeAssistantDiscovery(names); err != nil {
					log.Warn("Home Assistant discovery failed", zap.Error(err))
				}
			}

			var store collector.Store
			var history api.History
			if a.db != nil {
				store, history = a.db, a.db
			}
			coll := collector.NewCollector(collector.CollectorConfig{
				Estimator: a.estimator,
				Store:     store,
				Publisher: pub,
				Targets:   targets,
				Interval:  cfg.Collector.Interval,
				Retention: cfg.Collector.Retention,
				Timeout:   cfg.Collector.Timeout,
				Enabled:   cfg.Collector.Enabled,
				Logger:    log,
			})
			if err := coll.Start(); err != nil {
				return fmt.Errorf("failed to start collector: %w", err)
			}
			defer coll.Stop()

			var server *api.Server
			if cfg.API.Enabled {
				var meter api.Meter
				if cfg.Inverter.IP != "" {
					m, client := a.meter()
					defer client.Close()
					meter = m
				}
				server = api.NewServer(api.ServerConfig{
					Port:      cfg.API.Port,
					Estimator: a.estimator,
					Resolver:  a.resolver,
					Catalog:   a.catalog,
					History:   history,
					Collector: coll,
					Chat: chat.NewClient(cfg.Chat.Endpoint, cfg.Chat.Language,
						a.upstream("chatbot", &http.Client{Timeout: cfg.Chat.Timeout})),
					Meter:     meter,
					Broker:    broker,
					Upstreams: a.upstreams,
					Defaults: api.ArrayDefaults{
						Model:            cfg.Array.Model,
						CapacityKW:       cfg.Array.CapacityKW,
						PerformanceRatio: cfg.Array.PerformanceRatio,
					},
					Logger: log,
				})

				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("API server error", zap.Error(err))
						stop()
					}
				}()
			}

			log.Info("Solar estimator started", zap.String("source", a.estimator.SourceName()))
			<-ctx.Done()
			log.Info("Shutting down")

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(shutdownCtx); err != nil {
					log.Warn("API shutdown failed", zap.Error(err))
				}
			}
			return nil
		},
	}
}

func estimateCmd() *cobra.Command {
	sf, af, wf, tf := newSiteFlags(), newArrayFlags(), newWindowFlags(), newTariffFlags()
	var installDate, label string
	var save bool

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate production and savings for a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := site.Normalize(ctx, sf.input(), a.resolver)
			if err != nil {
				return err
			}
			array, err := a.array(af.model, af.capacityKW, af.performanceRatio)
			if err != nil {
				return err
			}
			g, err := irradiance.ParseGranularity(wf.granularity)
			if err != nil {
				return err
			}
			loc := st.Location()
			now := time.Now()
			window, err := irradiance.ParseWindow(wf.date, wf.start, wf.end, loc, now)
			if err != nil {
				return err
			}
			var install time.Time
			if installDate != "" {
				if install, err = irradiance.ParseTime("install-date", installDate, loc); err != nil {
					return err
				}
			}

			res, err := a.estimator.Estimate(ctx, estimator.Request{
				Site:         st,
				Array:        array,
				Window:       window,
				Granularity:  g,
				Tariff:       tf.tariff(a.estimator.DefaultTariff()),
				HorizonYears: tf.horizon,
				InstallDate:  install,
				Reference:    now,
			})
			if err != nil {
				return err
			}

			if save {
				if a.db == nil {
					return errors.New("database is disabled; cannot save the estimate")
				}
				record, err := a.db.SaveEstimate(ctx, res, label)
				if err != nil {
					return err
				}
				log.Info("Estimate saved", zap.String("id", record.ID))
			}
			return printJSON(res)
		},
	}

	cmd.Flags().AddFlagSet(sf.fs)
	cmd.Flags().AddFlagSet(af.fs)
	cmd.Flags().AddFlagSet(wf.fs)
	cmd.Flags().AddFlagSet(tf.fs)
	cmd.Flags().StringVar(&installDate, "install-date", "", "installation date, YYYY-MM-DD (default window start)")
	cmd.Flags().BoolVar(&save, "save", false, "store the estimate in the database")
	cmd.Flags().StringVar(&label, "label", "", "label of the stored estimate")
	return cmd
}

func statisticsCmd() *cobra.Command {
	sf, af := newSiteFlags(), newArrayFlags()
	var year int

	cmd := &cobra.Command{
		Use:   "statistics",
		Short: "Summarize a year of daily irradiance and energy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := site.Normalize(ctx, sf.input(), a.resolver)
			if err != nil {
				return err
			}
			array, err := a.array(af.model, af.capacityKW, af.performanceRatio)
			if err != nil {
				return err
			}
			stats, err := a.estimator.Statistics(ctx, st, array, year)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}

	cmd.Flags().AddFlagSet(sf.fs)
	cmd.Flags().AddFlagSet(af.fs)
	cmd.Flags().IntVar(&year, "year", 0, "calendar year (default current)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var installDate, reference, timezone string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Lay out the maintenance calendar of an installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("unknown timezone %q: %w", timezone, err)
			}
			install, err := irradiance.ParseTime("install-date", installDate, loc)
			if err != nil {
				return err
			}
			ref := time.Now().In(loc)
			if reference != "" {
				if ref, err = irradiance.ParseTime("reference", reference, loc); err != nil {
					return err
				}
			}

			events, err := maintenance.Schedule(install, cfg.Maintenance)
			if err != nil {
				return err
			}
			out := map[string]any{"events": events}
			if days, ok := maintenance.DaysUntilNext(events, ref); ok {
				out["days_until_next"] = days
			}
			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&installDate, "install-date", "", "installation date, YYYY-MM-DD")
	cmd.Flags().StringVar(&reference, "reference", "", "reference date for the countdown (default today)")
	cmd.Flags().StringVar(&timezone, "timezone", site.DefaultTimezone, "IANA time zone")
	_ = cmd.MarkFlagRequired("install-date")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <address>",
		Short: "Resolve an address to coordinates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := site.Normalize(ctx, site.Input{Address: args[0]}, a.resolver)
			if err != nil {
				return err
			}
			return printJSON(st.Coordinates)
		},
	}
}

func calibrateCmd() *cobra.Command {
	sf, af := newSiteFlags(), newArrayFlags()

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate the efficiency deviation against the inverter",
		Long:  "Compare today's inverter energy with the estimate for the same hours and store the measured deviation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return errors.New("database is disabled; cannot store the calibration")
			}

			st, err := site.Normalize(ctx, sf.input(), a.resolver)
			if err != nil {
				return err
			}
			array, err := a.array(af.model, af.capacityKW, af.performanceRatio)
			if err != nil {
				return err
			}

			meter, client := a.meter()
			defer client.Close()
			reading, err := meter.Read(ctx)
			if err != nil {
				return fmt.Errorf("failed to read inverter: %w", err)
			}

			loc := st.Location()
			now := reading.Timestamp.In(loc)
			day := irradiance.DayWindow(now, loc)
			window := irradiance.Window{
				Start: day.Start,
				End:   time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc),
			}
			if !window.End.After(window.Start) {
				return errors.New("no complete hour of production yet today")
			}

			res, err := a.estimator.Estimate(ctx, estimator.Request{
				Site:        st,
				Array:       array,
				Window:      window,
				Granularity: irradiance.Hour,
				Reference:   now,
				Deviation:   yield.NoDeviation{},
			})
			if err != nil {
				return err
			}

			cal, err := inverter.Calibrate(reading, res.TotalEnergy, array.PerformanceRatio, cfg.Yield.DeviationBand)
			if err != nil {
				return err
			}
			if err := a.db.SaveCalibration(ctx, &storage.CalibrationRecord{
				Timestamp:      reading.Timestamp,
				SiteKey:        st.Key(),
				SerialNumber:   reading.SerialNumber,
				NominalPower:   reading.NominalPower,
				ActivePower:    reading.ActivePower,
				RunningState:   reading.StateString,
				MeasuredEnergy: reading.DailyEnergy,
				ExpectedEnergy: cal.Expected,
				Deviation:      float64(cal.Deviation),
			}); err != nil {
				return err
			}
			log.Info("Calibration stored",
				zap.String("site", st.Key()),
				zap.Float64("measured_kwh", reading.DailyEnergy),
				zap.Float64("expected_kwh", cal.Expected),
				zap.Float64("deviation_pct", float64(cal.Deviation)),
			)
			return printJSON(cal)
		},
	}

	cmd.Flags().AddFlagSet(sf.fs)
	cmd.Flags().AddFlagSet(af.fs)
	return cmd
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test connection to the inverter",
		Long:  "Test the Modbus TCP connection to the inverter used for calibration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Printf("Testing connection to %s:%d...\n", cfg.Inverter.IP, cfg.Inverter.Port)

			a := &app{cfg: cfg, log: zap.NewNop()}
			meter, client := a.meter()
			defer client.Close()

			if err := client.Connect(); err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}
			fmt.Println("Connection SUCCESS!")

			reading, err := meter.Read(cmd.Context())
			if err != nil {
				fmt.Printf("Warning: Could not read data: %v\n", err)
				return nil
			}
			fmt.Printf("\nInverter Info:\n")
			fmt.Printf("  Serial Number: %s\n", reading.SerialNumber)
			fmt.Printf("  Nominal Power: %.1f kW\n", reading.NominalPower)
			fmt.Printf("  Status:        %s\n", reading.StateString)
			fmt.Printf("\nCurrent Values:\n")
			fmt.Printf("  Power:         %d W\n", reading.ActivePower)
			fmt.Printf("  Daily Energy:  %.1f kWh\n", reading.DailyEnergy)
			fmt.Printf("  Total Energy:  %.1f kWh\n", reading.TotalEnergy)
			return nil
		},
	}
}
