package growatt

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/errs"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

// fetchStatus returns the flat Noah system status record. Values arrive as
// strings; coercion happens in the normalizer.
func (s *service) fetchStatus(ctx context.Context, serial string) (model.RawTelemetry, error) {
	res := objResult[map[string]any]{}
	form := url.Values{
		"deviceSn": {serial},
		"userId":   {s.session.Token},
	}
	if err := s.postForm(ctx, noahStatusPath, form, &res); err != nil {
		return nil, err
	}
	if res.Result != 1 {
		return nil, fmt.Errorf("system status rejected: %s: %w", res.Msg, errs.ErrProtocol)
	}
	return model.RawTelemetry(res.Obj), nil
}

// fetchDeviceConfig merges the Noah configuration record with the storage
// detail/params calls. Each piece is best-effort: whatever the server
// answers for contributes keys, the rest is logged and skipped.
func (s *service) fetchDeviceConfig(ctx context.Context, serial string) (model.RawTelemetry, error) {
	merged := model.RawTelemetry{}

	info := objResult[noahInfo]{}
	if err := s.postForm(ctx, noahInfoPath, url.Values{"deviceSn": {serial}}, &info); err != nil {
		return nil, err
	}
	for k, v := range info.Obj.Noah {
		merged[k] = v
	}

	for _, op := range []string{"getStorageParams_sacolar", "getStorageTotalData_sacolar"} {
		res := objResult[map[string]any]{}
		form := url.Values{"storageId": {serial}, "op": {op}}
		if err := s.postForm(ctx, storageAPIPath+"?op="+op, form, &res); err != nil {
			s.logger.Debug("storage call failed", zap.String("op", op), zap.Error(err))
			continue
		}
		for k, v := range res.Obj {
			merged[k] = v
		}
	}

	return merged, nil
}
