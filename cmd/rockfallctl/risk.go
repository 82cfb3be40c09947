package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/go-rockfall-alerts/internal/fusion"
	"github.com/mr1hm/go-rockfall-alerts/internal/ingestion"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

func newFuseCmd(a *app) *cobra.Command {
	var (
		location string
		sensor   models.RiskEstimate
		drone    models.RiskEstimate
	)

	cmd := &cobra.Command{
		Use:   "fuse",
		Short: "Fuse a sensor and a drone risk estimate and print the assessment",
		Example: `  rockfallctl fuse --sensor-score 0.82 --drone-score 64 --drone-scale 100
  rockfallctl fuse --drone-score 0.4 --drone-confidence 0.6`,
		RunE: func(cmd *cobra.Command, args []string) error {
			hasSensor := cmd.Flags().Changed("sensor-score")
			hasDrone := cmd.Flags().Changed("drone-score")
			if !hasSensor && !hasDrone {
				return fmt.Errorf("at least one of --sensor-score or --drone-score is required")
			}

			now := time.Now()
			for _, est := range []*models.RiskEstimate{&sensor, &drone} {
				est.Location = location
				est.ObservedAt = now
			}
			sensor.Source, drone.Source = models.SourceSensor, models.SourceDrone

			if hasSensor {
				if err := ingestion.ValidateEstimate(&sensor); err != nil {
					return fmt.Errorf("sensor estimate: %w", err)
				}
			}
			if hasDrone {
				if err := ingestion.ValidateEstimate(&drone); err != nil {
					return fmt.Errorf("drone estimate: %w", err)
				}
			}

			var assessment models.RiskAssessment
			switch {
			case hasSensor && hasDrone:
				w := fusion.Weights{Sensor: a.cfg.Fusion.SensorWeight, Drone: a.cfg.Fusion.DroneWeight}
				assessment = fusion.Fuse(sensor, drone, w)
			case hasSensor:
				assessment = fusion.Single(sensor)
			default:
				assessment = fusion.Single(drone)
			}
			return printJSON(cmd.OutOrStdout(), assessment)
		},
	}

	f := cmd.Flags()
	f.StringVar(&location, "location", "unspecified", "location the estimates describe")
	f.Float64Var(&sensor.Score, "sensor-score", 0, "sensor-derived risk score")
	f.Float64Var(&sensor.Confidence, "sensor-confidence", 1, "confidence of the sensor estimate, 0..1")
	f.Float64Var(&drone.Score, "drone-score", 0, "drone-derived risk score")
	f.Float64Var(&drone.Confidence, "drone-confidence", 1, "confidence of the drone estimate, 0..1")
	f.Float64Var(&drone.Scale, "drone-scale", 1, "scale of the drone score (1 or 100)")
	return cmd
}
