package growatt

import "encoding/json"

// The login and plant-list endpoints wrap their payload in a "back" object;
// the noahDeviceApi endpoints use {"result": 1, "obj": ...} instead.

type backResult[T any] struct {
	Back T `json:"back"`
}

type loginBack struct {
	Success bool      `json:"success"`
	Msg     string    `json:"msg"`
	User    loginUser `json:"user"`
}

type loginUser struct {
	ID json.Number `json:"id"`
}

type plantListBack struct {
	Success bool    `json:"success"`
	Msg     string  `json:"msg"`
	Data    []plant `json:"data"`
}

type plant struct {
	PlantID   string `json:"plantId"`
	PlantName string `json:"plantName"`
}

type objResult[T any] struct {
	Result int    `json:"result"`
	Msg    string `json:"msg"`
	Obj    T      `json:"obj"`
}

type noahCheck struct {
	IsPlantNoahSystem bool   `json:"isPlantNoahSystem"`
	IsPlantHaveNoah   bool   `json:"isPlantHaveNoah"`
	DeviceSN          string `json:"deviceSn"`
}

type deviceListResponse struct {
	DeviceList []deviceEntry `json:"deviceList"`
}

type deviceEntry struct {
	DeviceSN    string `json:"deviceSn"`
	SerialNum   string `json:"serialNum"`
	DeviceType  string `json:"deviceType"`
	DeviceAlias string `json:"deviceAlias"`
}

func (d deviceEntry) serial() string {
	if d.DeviceSN != "" {
		return d.DeviceSN
	}
	return d.SerialNum
}

type noahInfo struct {
	Noah map[string]any `json:"noah"`
}
