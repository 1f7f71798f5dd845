package growatt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvolli/growatt-bridge/internal/pkg/config"
	"github.com/mvolli/growatt-bridge/internal/pkg/errs"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

const loginHash123456 = "e1cadc3949ba59abbe56e057f2cf883e"

func testConfig(serverURL string) *config.BridgeConfig {
	return &config.BridgeConfig{
		ConnectionType: model.ConnectionAPI,
		DeviceType:     model.VariantNoah2000,
		Username:       "mvolli",
		Password:       "123456",
		ServerURL:      serverURL,
		Timeout:        5 * time.Second,
		ScanInterval:   30 * time.Second,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestLoginSubmitsHashedPassword(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/newTwoLoginAPI.do", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "mvolli", r.PostForm.Get("userName"))
		assert.Equal(t, loginHash123456, r.PostForm.Get("password"))
		writeJSON(t, w, map[string]any{
			"back": map[string]any{"success": true, "user": map[string]any{"id": 4242}},
		})
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	session, err := svc.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4242", session.Token)
	assert.Equal(t, "mvolli", session.Identity)
}

func TestLoginFailureIsAuthenticationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"back": map[string]any{"success": false, "msg": "password errors"},
		})
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	_, err := svc.Login(context.Background())
	require.ErrorIs(t, err, errs.ErrAuthentication)
	assert.Contains(t, err.Error(), "password errors")
}

func TestLoginRateLimitMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"back": map[string]any{"success": false, "msg": "login too frequently, try later"},
		})
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	_, err := svc.Login(context.Background())
	assert.ErrorIs(t, err, errs.ErrRateLimited)
}

func TestTestConnectionWithoutCredentials(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Username = ""
	cfg.Password = ""
	svc := New(cfg, nil)

	assert.False(t, svc.TestConnection(context.Background()))
	assert.Zero(t, calls.Load(), "no network call expected without credentials")
}

func TestDiscoverDeviceNoPlants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newTwoLoginAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "user": map[string]any{"id": 1}},
			})
		case "/PlantListAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "data": []any{}},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)

	_, err = svc.DiscoverDevice(context.Background())
	require.ErrorIs(t, err, errs.ErrNoPlants)
	assert.ErrorIs(t, err, errs.ErrDeviceNotFound)
}

func TestDiscoverDeviceUsesNoahCheckSerial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newTwoLoginAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "user": map[string]any{"id": 1}},
			})
		case "/PlantListAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "data": []any{
					map[string]any{"plantId": "90001", "plantName": "Balcony"},
				}},
			})
		case "/noahDeviceApi/noah/isPlantNoahSystem":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "90001", r.PostForm.Get("plantId"))
			writeJSON(t, w, map[string]any{
				"result": 1,
				"obj": map[string]any{
					"isPlantNoahSystem": true,
					"isPlantHaveNoah":   true,
					"deviceSn":          "0PVPH6ZR23QT01AX",
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)

	ref, err := svc.DiscoverDevice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "90001", ref.PlantID)
	assert.Equal(t, "0PVPH6ZR23QT01AX", ref.DeviceSerial)
}

func TestDiscoverDeviceConfiguredSerialWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newTwoLoginAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "user": map[string]any{"id": 1}},
			})
		case "/PlantListAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "data": []any{
					map[string]any{"plantId": "90001", "plantName": "Balcony"},
				}},
			})
		case "/noahDeviceApi/noah/isPlantNoahSystem":
			writeJSON(t, w, map[string]any{
				"result": 1,
				"obj":    map[string]any{"deviceSn": "OTHER_SERIAL"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.DeviceID = "MY_SERIAL_42"
	svc := New(cfg, nil)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)

	ref, err := svc.DiscoverDevice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "MY_SERIAL_42", ref.DeviceSerial)
}

func TestDiscoverDevicePlantNamePinIsNotASerial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newTwoLoginAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "user": map[string]any{"id": 1}},
			})
		case "/PlantListAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "data": []any{
					map[string]any{"plantId": "90001", "plantName": "Garage"},
					map[string]any{"plantId": "90002", "plantName": "Balcony"},
				}},
			})
		case "/noahDeviceApi/noah/isPlantNoahSystem":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "90002", r.PostForm.Get("plantId"))
			writeJSON(t, w, map[string]any{
				"result": 1,
				"obj":    map[string]any{"deviceSn": "0PVPH6ZR23QT01AX"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.DeviceID = "Balcony"
	svc := New(cfg, nil)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)

	ref, err := svc.DiscoverDevice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "90002", ref.PlantID)
	assert.Equal(t, "0PVPH6ZR23QT01AX", ref.DeviceSerial,
		"a plant-name pin selects the plant, it is not the device serial")
}

func TestDiscoverDeviceFallsBackToDeviceList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newTwoLoginAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "user": map[string]any{"id": 1}},
			})
		case "/PlantListAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "data": []any{
					map[string]any{"plantId": "90001", "plantName": "Balcony"},
				}},
			})
		case "/noahDeviceApi/noah/isPlantNoahSystem":
			writeJSON(t, w, map[string]any{"result": 1, "obj": map[string]any{}})
		case "/newTwoPlantAPI.do":
			writeJSON(t, w, map[string]any{
				"deviceList": []any{
					map[string]any{"deviceSn": "INV001", "deviceType": "inverter"},
					map[string]any{"serialNum": "NOAH001", "deviceType": "noah_storage"},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)

	ref, err := svc.DiscoverDevice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NOAH001", ref.DeviceSerial)
}

func TestFetchStatusParsesFlatRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newTwoLoginAPI.do":
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "user": map[string]any{"id": 7}},
			})
		case "/noahDeviceApi/noah/getSystemStatus":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "SN1", r.PostForm.Get("deviceSn"))
			writeJSON(t, w, map[string]any{
				"result": 1,
				"obj": map[string]any{
					"soc":         "76.5",
					"chargePower": "120",
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)

	raw, err := svc.fetchStatus(context.Background(), "SN1")
	require.NoError(t, err)
	assert.Equal(t, 76.5, raw.Float("soc"))
	assert.Equal(t, 120.0, raw.Float("chargePower"))
}

// An HTML body on an authenticated call means the session died server-side:
// exactly one re-login and one retry, then give up.
func TestSessionExpiryRetriesOnce(t *testing.T) {
	var logins, statusCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newTwoLoginAPI.do":
			logins.Add(1)
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "user": map[string]any{"id": 7}},
			})
		case "/noahDeviceApi/noah/getSystemStatus":
			if statusCalls.Add(1) == 1 {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html><body>login</body></html>"))
				return
			}
			writeJSON(t, w, map[string]any{"result": 1, "obj": map[string]any{"soc": "50"}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)
	logins.Store(0)

	raw, err := svc.fetchStatus(context.Background(), "SN1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, raw.Float("soc"))
	assert.Equal(t, int64(1), logins.Load())
	assert.Equal(t, int64(2), statusCalls.Load())
}

func TestSessionExpiryNeverLoops(t *testing.T) {
	var logins atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newTwoLoginAPI.do":
			logins.Add(1)
			writeJSON(t, w, map[string]any{
				"back": map[string]any{"success": true, "user": map[string]any{"id": 7}},
			})
		default:
			// every authenticated call looks like a login redirect
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>please log in</html>"))
		}
	}))
	defer server.Close()

	svc := New(testConfig(server.URL), nil)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)
	logins.Store(0)

	_, err = svc.fetchStatus(context.Background(), "SN1")
	require.ErrorIs(t, err, errs.ErrSessionExpired)
	assert.Equal(t, int64(1), logins.Load(), "must re-login at most once per originating call")
}

type fakeTokenStore struct {
	saved  []model.AuthSession
	cached *model.AuthSession
}

func (f *fakeTokenStore) Load(identity string) (model.AuthSession, bool) {
	if f.cached != nil && f.cached.Identity == identity {
		return *f.cached, true
	}
	return model.AuthSession{}, false
}

func (f *fakeTokenStore) Save(session model.AuthSession) error {
	f.saved = append(f.saved, session)
	return nil
}

func TestLoginPersistsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"back": map[string]any{"success": true, "user": map[string]any{"id": 99}},
		})
	}))
	defer server.Close()

	store := &fakeTokenStore{}
	svc := New(testConfig(server.URL), store)
	_, err := svc.Login(context.Background())
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "99", store.saved[0].Token)
	assert.Equal(t, "mvolli", store.saved[0].Identity)
}

func TestEnsureSessionReusesCachedToken(t *testing.T) {
	var logins atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/newTwoLoginAPI.do" {
			logins.Add(1)
		}
		writeJSON(t, w, map[string]any{})
	}))
	defer server.Close()

	store := &fakeTokenStore{cached: &model.AuthSession{Token: "99", Identity: "mvolli"}}
	svc := New(testConfig(server.URL), store)

	require.NoError(t, svc.ensureSession(context.Background()))
	assert.Equal(t, "99", svc.session.Token)
	assert.Zero(t, logins.Load())
}
