package sources

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestADSBDBAircraftByHex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/aircraft/c06f5a", r.URL.Path)
		w.Write([]byte(`{"response":{"aircraft":{
			"registration":"C-FABC","type":"A320-214","manufacturer":"Airbus",
			"registered_owner":"Air Canada","registered_owner_country_name":"Canada"}}}`))
	}))
	defer srv.Close()

	c := NewADSBDBClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	id, err := c.AircraftByHex(context.Background(), "c06f5a")
	require.NoError(t, err)
	assert.Equal(t, "C-FABC", *id.Registration)
	assert.Equal(t, "A320-214", *id.Model)
	assert.Equal(t, "Airbus", *id.Manufacturer)
	assert.Equal(t, "Air Canada", *id.OwnerName)
	assert.Equal(t, "Canada", *id.OwnerCountry)
}

func TestADSBDBUnknownAircraft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"unknown aircraft"}`))
	}))
	defer srv.Close()

	c := NewADSBDBClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	_, err := c.AircraftByHex(context.Background(), "ffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestADSBDBCallsignRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/callsign/ACA123", r.URL.Path)
		w.Write([]byte(`{"response":{"flightroute":{
			"airline":{"name":"Air Canada","country":"Canada"},
			"origin":{"icao_code":"CYOW"},
			"destination":{"icao_code":"CYUL"}}}}`))
	}))
	defer srv.Close()

	c := NewADSBDBClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	route, err := c.CallsignRoute(context.Background(), "ACA123")
	require.NoError(t, err)
	assert.Equal(t, "Air Canada", *route.AirlineName)
	assert.Equal(t, "CYOW", *route.OriginICAO)
	assert.Equal(t, "CYUL", *route.DestICAO)
}

func TestADSBDBCallsignRouteNullAirline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"flightroute":{
			"airline":null,"origin":{"icao_code":"CYOW"},"destination":{"icao_code":"CYUL"}}}}`))
	}))
	defer srv.Close()

	c := NewADSBDBClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	_, err := c.CallsignRoute(context.Background(), "XXX999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHexDBAircraftByHex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Firefox")
		w.Write([]byte(`{"Registration":"N12345","Type":"B738","Manufacturer":"Boeing","RegisteredOwners":"Delta"}`))
	}))
	defer srv.Close()

	c := NewHexDBClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	id, err := c.AircraftByHex(context.Background(), "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, "N12345", *id.Registration)
	assert.Equal(t, "Delta", *id.OwnerName)
	assert.Nil(t, id.OwnerCountry)
}

func TestHexDBMissingRegistration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"no record"}`))
	}))
	defer srv.Close()

	c := NewHexDBClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	_, err := c.AircraftByHex(context.Background(), "ffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAeroAPIMonthlySpend(t *testing.T) {
	var gotStart, gotEnd, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		gotKey = r.Header.Get("x-apikey")
		w.Write([]byte(`{"total_cost":4.35}`))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	c := NewAeroAPIClient("key-123", 10, time.Second, clock, discardLogger())
	c.baseURL = srv.URL

	total, err := c.MonthlySpend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.35, total)
	assert.Equal(t, "2025-06-01", gotStart)
	assert.Equal(t, "2025-06-18", gotEnd)
	assert.Equal(t, "key-123", gotKey)
}

func TestAeroAPIMonthlySpendFirstOfMonth(t *testing.T) {
	var gotStart, gotEnd string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		w.Write([]byte(`{"total_cost":0}`))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC))
	c := NewAeroAPIClient("key", 10, time.Second, clock, discardLogger())
	c.baseURL = srv.URL

	_, err := c.MonthlySpend(context.Background())
	require.NoError(t, err)

	// A zero-length range is rejected upstream, so the end date moves
	// forward one day.
	assert.Equal(t, "2025-06-01", gotStart)
	assert.Equal(t, "2025-06-02", gotEnd)
}

func TestAeroAPIAvailable(t *testing.T) {
	tests := []struct {
		name  string
		limit float64
		spent float64
		want  bool
	}{
		{"well under ceiling", 10, 4.35, true},
		{"exactly at buffer", 10, 9.90, true},
		{"inside buffer", 10, 9.91, false},
		{"over ceiling", 10, 12, false},
		{"zero ceiling always denies", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"total_cost":` + floatJSON(tt.spent) + `}`))
			}))
			defer srv.Close()

			clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC))
			c := NewAeroAPIClient("key", tt.limit, time.Second, clock, discardLogger())
			c.baseURL = srv.URL

			assert.Equal(t, tt.want, c.Available(context.Background()))
		})
	}
}

func floatJSON(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func TestAeroAPIFlightsByRegistration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/flights/C-FABC", r.URL.Path)
		w.Write([]byte(`{"flights":[
			{"ident_icao":"ACA456","origin":{"code_icao":"CYYZ"},"destination":{"code_icao":"CYVR"}},
			{"ident_icao":"ACA123","origin":{"code_icao":"CYOW"},"destination":null}]}`))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	c := NewAeroAPIClient("key", 10, time.Second, clock, discardLogger())
	c.baseURL = srv.URL

	segments, err := c.FlightsByRegistration(context.Background(), "C-FABC")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "ACA456", segments[0].IdentICAO)
	assert.Equal(t, "CYVR", *segments[0].DestICAO)
	assert.Equal(t, "ACA123", segments[1].IdentICAO)
	assert.Equal(t, "CYOW", *segments[1].OriginICAO)
	assert.Nil(t, segments[1].DestICAO)
}

func TestAeroAPIAirportByICAO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code_icao":"CYOW","name":"Ottawa Macdonald-Cartier Intl",
			"city":"Ottawa","state":"Ontario","latitude":45.3225,"longitude":-75.6692,
			"country_code":"CA"}`))
	}))
	defer srv.Close()

	c := NewAeroAPIClient("key", 10, time.Second, clockwork.NewFakeClock(), discardLogger())
	c.baseURL = srv.URL

	a, err := c.AirportByICAO(context.Background(), "CYOW")
	require.NoError(t, err)
	assert.Equal(t, "CYOW", a.CodeICAO)
	assert.Equal(t, "Ottawa Macdonald-Cartier Intl", *a.Name)
	assert.Equal(t, "CA", *a.CountryCode)
}

func TestAeroAPIAirportMissingCountryCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"airport not found"}`))
	}))
	defer srv.Close()

	c := NewAeroAPIClient("key", 10, time.Second, clockwork.NewFakeClock(), discardLogger())
	c.baseURL = srv.URL

	_, err := c.AirportByICAO(context.Background(), "XXXX")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlightAwareRouteByHex(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/live/modes/c06f5a/redirect", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Firefox")
		http.Redirect(w, r, "/live/flight/ACA123/history/20250618/1200Z/CYOW/CYUL", http.StatusFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("flight page"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewFlightAwareClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	route, err := c.RouteByHex(context.Background(), "c06f5a")
	require.NoError(t, err)
	assert.Equal(t, "ACA123", route.Callsign)
	assert.Equal(t, "CYOW", *route.OriginICAO)
	assert.Equal(t, "CYUL", *route.DestICAO)
}

func TestFlightAwareRouteByHexNoEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/live/modes/abc123/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/live/flight/GOOSE1", http.StatusFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("flight page"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewFlightAwareClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	route, err := c.RouteByHex(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "GOOSE1", route.Callsign)
	assert.Nil(t, route.OriginICAO)
	assert.Nil(t, route.DestICAO)
}

func TestFlightAwareNoRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nothing here"))
	}))
	defer srv.Close()

	c := NewFlightAwareClient(time.Second, discardLogger())
	c.baseURL = srv.URL

	_, err := c.RouteByHex(context.Background(), "ffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}
