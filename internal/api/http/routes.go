package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-sync/internal/weather"
)

// RegisterRoutes wires the HTTP handlers into the given router.
func RegisterRoutes(r fiber.Router, svc Services) {
	locations := r.Group("/locations")

	locations.Get("/", func(c *fiber.Ctx) error {
		items, err := svc.Locations.List(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(items)
	})

	locations.Post("/", func(c *fiber.Ctx) error {
		var req weather.CreateLocationRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		created, err := svc.Locations.Create(c.UserContext(), req)
		if err != nil {
			return err
		}
		c.Location("/api/v1/locations/" + strconv.FormatInt(created.ID, 10))
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	locations.Get("/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		loc, err := svc.Locations.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(loc)
	})

	locations.Put("/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		var req weather.UpdateLocationRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		updated, err := svc.Locations.Update(c.UserContext(), id, req)
		if err != nil {
			return err
		}
		return c.JSON(updated)
	})

	locations.Delete("/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		if err := svc.Locations.Delete(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	locations.Post("/:id/refresh", func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		if err := svc.Sync.RefreshLocation(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	sync := r.Group("/sync")

	sync.Post("/refresh-all", func(c *fiber.Ctx) error {
		n, err := svc.Sync.RefreshAll(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"refreshedLocations": n,
			"refreshedAt":        time.Now().UTC(),
		})
	})

	sync.Get("/history", func(c *fiber.Ctx) error {
		limit := weather.DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "limit must be an integer")
			}
			limit = n
		}
		ops, err := svc.Sync.RecentSyncHistory(c.UserContext(), limit)
		if err != nil {
			return err
		}
		return c.JSON(ops)
	})

	r.Get("/preferences", func(c *fiber.Ctx) error {
		prefs, err := svc.Preferences.Get(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(prefs)
	})

	r.Put("/preferences", func(c *fiber.Ctx) error {
		var req weather.UpdatePreferencesRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		prefs, err := svc.Preferences.Update(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.JSON(prefs)
	})

	w := r.Group("/weather")

	w.Get("/current", func(c *fiber.Ctx) error {
		items, err := svc.Query.CurrentForTracked(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(items)
	})

	w.Get("/current/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		current, err := svc.Query.CurrentByLocation(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(current)
	})

	w.Get("/forecast/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		forecast, err := svc.Query.ForecastByLocation(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(forecast)
	})

	w.Get("/by-city/current", func(c *fiber.Ctx) error {
		current, err := svc.Query.CurrentByCity(c.UserContext(), c.Query("city"), c.Query("country"), queryUnits(c))
		if err != nil {
			return err
		}
		return c.JSON(current)
	})

	w.Get("/by-city/forecast", func(c *fiber.Ctx) error {
		forecast, err := svc.Query.ForecastByCity(c.UserContext(), c.Query("city"), c.Query("country"), queryUnits(c))
		if err != nil {
			return err
		}
		return c.JSON(forecast)
	})

	w.Get("/history/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		var q historyQuery
		if err := q.bind(c, time.Now().UTC()); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		snapshots, summary, err := svc.Query.History(c.UserContext(), id, q.From, q.To)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"locationId": id,
			"from":       q.From,
			"to":         q.To,
			"summary":    summary,
			"snapshots":  snapshots,
		})
	})
}

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "id must be a positive integer")
	}
	return id, nil
}

// queryUnits returns the requested unit system, or "" (the default
// preference) when the parameter is missing or unrecognized.
func queryUnits(c *fiber.Ctx) weather.Units {
	raw := strings.TrimSpace(c.Query("units"))
	if raw == "" {
		return ""
	}
	units, err := weather.ParseUnits(raw)
	if err != nil {
		return ""
	}
	return units
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time
	To   time.Time
}

// bind reads from/to, defaulting to the 24 hours before now.
func (h *historyQuery) bind(c *fiber.Ctx, now time.Time) error {
	h.To = now
	h.From = now.Add(-24 * time.Hour)

	if s := c.Query("from"); s != "" {
		from, err := parseTime(s)
		if err != nil {
			return err
		}
		h.From = from
	}
	if s := c.Query("to"); s != "" {
		to, err := parseTime(s)
		if err != nil {
			return err
		}
		h.To = to
	}
	if h.To.Before(h.From) {
		return errors.New("'to' must not be before 'from'")
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
