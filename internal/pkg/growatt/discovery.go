package growatt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/errs"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

// DiscoverDevice walks the account -> plant -> device chain and resolves the
// serial to poll. Serial priority: explicitly configured device id, then the
// serial reported by the Noah system check, then the first storage-shaped
// entry in the plant's device list.
func (s *service) DiscoverDevice(ctx context.Context) (*model.PlantDeviceRef, error) {
	plants, err := s.listPlants(ctx)
	if err != nil {
		return nil, err
	}
	if len(plants) == 0 {
		return nil, errs.ErrNoPlants
	}

	target, found := lo.Find(plants, func(p plant) bool {
		return s.cfg.DeviceID != "" && (p.PlantID == s.cfg.DeviceID || p.PlantName == s.cfg.DeviceID)
	})
	if !found {
		target = plants[0]
	}
	s.logger.Info("using plant", zap.String("plant_id", target.PlantID), zap.String("plant_name", target.PlantName))

	// Best-effort: a plant without the Noah subsystem is worth a warning but
	// the device list may still resolve a serial.
	check, err := s.checkNoahSystem(ctx, target.PlantID)
	if err != nil {
		s.logger.Warn("noah system check failed", zap.Error(err))
		check = &noahCheck{}
	} else if !check.IsPlantNoahSystem && !check.IsPlantHaveNoah {
		s.logger.Warn("plant does not report a noah system", zap.String("plant_id", target.PlantID))
	}

	serial := s.resolveSerial(ctx, target, check)
	if serial == "" {
		return nil, fmt.Errorf("no device serial resolvable in plant %s: %w", target.PlantID, errs.ErrDeviceNotFound)
	}

	ref := &model.PlantDeviceRef{
		PlantID:      target.PlantID,
		DeviceSerial: serial,
		DeviceType:   s.cfg.DeviceType.String(),
	}
	s.logger.Info("resolved device", zap.String("serial", ref.DeviceSerial), zap.String("plant_id", ref.PlantID))
	return ref, nil
}

func (s *service) resolveSerial(ctx context.Context, target plant, check *noahCheck) string {
	// A configured id that matched neither the plant id nor the plant name is
	// taken as the serial. A plant-name pin must not leak into deviceSn.
	if s.cfg.DeviceID != "" && s.cfg.DeviceID != target.PlantID && s.cfg.DeviceID != target.PlantName {
		return s.cfg.DeviceID
	}
	if check.DeviceSN != "" {
		return check.DeviceSN
	}

	devices, err := s.listDevices(ctx, target.PlantID)
	if err != nil {
		s.logger.Warn("device list fetch failed", zap.Error(err))
		return ""
	}
	match, found := lo.Find(devices, func(d deviceEntry) bool {
		t := strings.ToLower(d.DeviceType)
		return strings.Contains(t, "noah") || strings.Contains(t, "storage") || strings.Contains(t, "battery")
	})
	if found {
		return match.serial()
	}
	if len(devices) > 0 {
		s.logger.Info("no storage device in plant, falling back to first device",
			zap.String("serial", devices[0].serial()))
		return devices[0].serial()
	}
	return ""
}

func (s *service) listPlants(ctx context.Context) ([]plant, error) {
	body, err := s.do(ctx, "GET", plantListPath+"?userId="+url.QueryEscape(s.session.Token), nil)
	if err != nil {
		return nil, err
	}
	if looksLikeLoginRedirect(body) {
		// discovery runs right after login; a redirect here means the cached
		// token was stale, refresh it once
		s.expireSession()
		if _, err := s.Login(ctx); err != nil {
			return nil, err
		}
		if body, err = s.do(ctx, "GET", plantListPath+"?userId="+url.QueryEscape(s.session.Token), nil); err != nil {
			return nil, err
		}
		if looksLikeLoginRedirect(body) {
			return nil, fmt.Errorf("plant list redirected to login twice: %w", errs.ErrSessionExpired)
		}
	}

	res := backResult[plantListBack]{}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding plant list: %v: %w", err, errs.ErrProtocol)
	}
	if !res.Back.Success && res.Back.Msg != "" {
		return nil, fmt.Errorf("plant list rejected: %s: %w", res.Back.Msg, errs.ErrProtocol)
	}
	return res.Back.Data, nil
}

func (s *service) checkNoahSystem(ctx context.Context, plantID string) (*noahCheck, error) {
	res := objResult[noahCheck]{}
	form := url.Values{"plantId": {plantID}}
	if err := s.postForm(ctx, noahCheckPath, form, &res); err != nil {
		return nil, err
	}
	return &res.Obj, nil
}

func (s *service) listDevices(ctx context.Context, plantID string) ([]deviceEntry, error) {
	path := deviceListPath + "&plantId=" + url.QueryEscape(plantID) + "&pageNum=1&pageSize=20"
	body, err := s.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	if looksLikeLoginRedirect(body) {
		return nil, fmt.Errorf("device list redirected to login: %w", errs.ErrSessionExpired)
	}
	res := deviceListResponse{}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding device list: %v: %w", err, errs.ErrProtocol)
	}
	return res.DeviceList, nil
}
