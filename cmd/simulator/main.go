package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/geo"
	"github.com/ukydev/fleet-dispatch/internal/handlers"
	"github.com/ukydev/fleet-dispatch/internal/location"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// settings configure one simulated delivery run.
type settings struct {
	APIURL     string
	Phone      string
	Code       string
	OrgID      string
	VehicleID  string
	Meter      int
	LegMeters  float64
	SpeedKmh   float64
	Tick       time.Duration
	BatchSize  int
	OSRMURL    string
	MQTTBroker string
}

func loadSettings() settings {
	s := settings{
		APIURL:     getEnv("API_BASE_URL", "http://localhost:8080/api"),
		Phone:      getEnv("SIM_PHONE", "+15550100"),
		Code:       os.Getenv("SIM_OTP_CODE"),
		OrgID:      os.Getenv("SIM_ORG_ID"),
		VehicleID:  getEnv("SIM_VEHICLE_ID", fmt.Sprintf("van-%d", 1+rand.Intn(20))),
		Meter:      getIntEnv("SIM_METER_READING", 10000+rand.Intn(5000)),
		LegMeters:  float64(getIntEnv("SIM_LEG_METERS", 1500)),
		SpeedKmh:   float64(getIntEnv("SIM_SPEED_KMH", 35)),
		Tick:       time.Duration(getIntEnv("SIM_TICK_SECONDS", 2)) * time.Second,
		BatchSize:  getIntEnv("SIM_BATCH_SIZE", 5),
		OSRMURL:    os.Getenv("OSRM_URL"),
		MQTTBroker: os.Getenv("SIM_MQTT_BROKER"),
	}
	if s.Tick < time.Second {
		s.Tick = time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	return s
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// simulator drives one trip from dispatch to return.
type simulator struct {
	cfg     settings
	api     *apiClient
	route   RouteSource
	publish func(driverID string, fix location.Fix)
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	code    func() (string, error)
}

func newSimulator(cfg settings) *simulator {
	s := &simulator{
		cfg:   cfg,
		api:   newAPIClient(cfg.APIURL),
		sleep: sleepCtx,
		now:   time.Now,
	}
	if cfg.OSRMURL != "" {
		s.route = osrmRoute(cfg.OSRMURL)
	}
	s.code = func() (string, error) {
		if cfg.Code != "" {
			return cfg.Code, nil
		}
		fmt.Printf("Enter the code sent to %s: ", cfg.Phone)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read code: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run logs in, dispatches at the depot, drives out to the drop-off, delivers and drives back.
func (s *simulator) Run(ctx context.Context) (*models.Trip, error) {
	user, err := s.api.Login(ctx, s.cfg.Phone, s.code)
	if err != nil {
		return nil, err
	}
	driverID := user.ID.Hex()

	orgID := s.cfg.OrgID
	if orgID == "" {
		if len(user.OrgIDs) == 0 {
			return nil, errors.New("driver belongs to no organization")
		}
		orgID = user.OrgIDs[0]
	}
	if err := s.api.SelectOrg(ctx, orgID); err != nil {
		return nil, err
	}

	dep, err := s.api.Depot(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load depot: %w", err)
	}
	start := jitter(dep.Location, float64(dep.RadiusMeters)/4)

	check, err := s.api.CheckDepot(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("check depot: %w", err)
	}
	log.WithFields(log.Fields{"decision": check.Decision, "distance_m": math.Round(check.DistanceMeters)}).Info("Depot check")

	tripID, err := s.api.Dispatch(ctx, handlers.DispatchRequest{
		VehicleID:    s.cfg.VehicleID,
		OrderID:      fmt.Sprintf("order-%d", s.now().Unix()),
		MeterReading: s.cfg.Meter,
		Location:     &start,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	log.WithFields(log.Fields{"trip_id": tripID, "driver_id": driverID, "org_id": orgID}).Info("Trip dispatched")

	dropOff := destination(dep.Location, rand.Float64()*360, s.cfg.LegMeters)
	out := planLeg(s.route, start, dropOff)
	travelled, err := s.drive(ctx, tripID, driverID, out)
	if err != nil {
		return nil, err
	}

	photo, err := deliveryPhoto(tripID)
	if err != nil {
		return nil, err
	}
	if _, err := s.api.Deliver(ctx, tripID, "delivery-"+tripID+".png", photo); err != nil {
		return nil, fmt.Errorf("deliver: %w", err)
	}
	log.WithField("trip_id", tripID).Info("Order delivered")

	back := planLeg(s.route, dropOff, jitter(dep.Location, float64(dep.RadiusMeters)/4))
	more, err := s.drive(ctx, tripID, driverID, back)
	if err != nil {
		return nil, err
	}
	travelled += more

	end := back.Points[len(back.Points)-1]
	finalMeter := s.cfg.Meter + int(math.Ceil(travelled/1000))
	t, err := s.api.Return(ctx, tripID, handlers.ReturnRequest{FinalMeterReading: finalMeter, Location: &end})
	if err != nil {
		return nil, fmt.Errorf("return: %w", err)
	}

	fields := log.Fields{"trip_id": t.ID, "status": t.Status, "simulated_km": math.Round(travelled) / 1000}
	if t.DistanceTravelledKm != nil {
		fields["distance_km"] = *t.DistanceTravelledKm
	}
	if t.AverageSpeedKmh != nil {
		fields["avg_speed_kmh"] = *t.AverageSpeedKmh
	}
	log.WithFields(fields).Info("Trip returned")
	return t, nil
}

// drive walks the route at the configured speed, uploading fixes in batches. It returns the
// meters covered.
func (s *simulator) drive(ctx context.Context, tripID, driverID string, route *Route) (float64, error) {
	step := s.cfg.SpeedKmh * 1000 / 3600 * s.cfg.Tick.Seconds()
	prev := route.Points[0]
	covered := 0.0
	var batch []handlers.LocationFix

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.api.SendFixes(ctx, tripID, batch); err != nil {
			return fmt.Errorf("send fixes: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for !route.Done() {
		if err := s.sleep(ctx, s.cfg.Tick); err != nil {
			return covered, err
		}
		pos := route.Step(step)
		covered += geo.DistanceMeters(prev, pos)
		prev = pos

		fix := handlers.LocationFix{Lat: pos.Lat, Lng: pos.Lng, CapturedAt: s.now().UTC()}
		batch = append(batch, fix)
		if s.publish != nil {
			s.publish(driverID, location.Fix{Lat: fix.Lat, Lng: fix.Lng, CapturedAt: fix.CapturedAt, TripID: tripID})
		}
		if len(batch) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return covered, err
			}
		}
	}
	return covered, flush()
}

// deliveryPhoto renders a small placeholder image for the proof of delivery.
func deliveryPhoto(tripID string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	shade := uint8(len(tripID) * 7)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mqttPublisher publishes fixes on drivers/<id>/location.
func mqttPublisher(broker string) (func(string, location.Fix), func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("simulator-%d", rand.Intn(1_000_000))).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, err
	}

	publish := func(driverID string, fix location.Fix) {
		payload, err := json.Marshal(fix)
		if err != nil {
			return
		}
		client.Publish(location.Topic(driverID), 1, false, payload)
	}
	return publish, func() { client.Disconnect(250) }, nil
}

func main() {
	cfg := loadSettings()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"api_url":    cfg.APIURL,
		"phone":      cfg.Phone,
		"vehicle_id": cfg.VehicleID,
		"speed_kmh":  cfg.SpeedKmh,
		"interval":   cfg.Tick,
	}).Info("Starting delivery simulation")

	sim := newSimulator(cfg)
	if cfg.MQTTBroker != "" {
		publish, closeFn, err := mqttPublisher(cfg.MQTTBroker)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		defer closeFn()
		sim.publish = publish
	}

	if _, err := sim.Run(ctx); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			log.WithFields(log.Fields{"status": apiErr.Status, "body": apiErr.Body}).Error("API rejected the request")
		}
		log.WithError(err).Fatal("Simulation failed")
	}
}
