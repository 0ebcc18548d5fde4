package state

import "fmt"

// StateType represents the type of a state variable
type StateType string

const (
	TypeBool   StateType = "bool"
	TypeString StateType = "string"
)

// StateVariable defines metadata for a state variable
type StateVariable struct {
	Key      string      // e.g. "air_control_enabled"
	EntityID string      // host entity mirrored into this variable, if any
	Type     StateType   // bool or string
	Default  interface{} // Default value
	// LocalOnly variables live in memory and are never written to the host.
	LocalOnly bool
	// Control marks user-facing switches the engine reacts to.
	Control bool
}

// Variable and timer keys.
const (
	KeyControlEnabled     = "air_control_enabled"
	KeyManualOverride     = "air_control_manual_override"
	KeyIsolateFans        = "air_isolate_fan_outputs"
	KeyIsolateHumidifiers = "air_isolate_humidifier_outputs"
	KeyCOEmergencyActive  = "air_co_emergency_active"
	KeyRuntimeMode        = "air_control_mode"
	KeyRuntimeModeDisplay = "air_control_mode_display"
	KeyRuntimeReason      = "air_control_reason"
	TimerPause            = "air_control_pause"
	MaxAlertSwitches      = 5
	DefaultRuntimeMode    = "normal"
	DefaultRuntimeDisplay = "NORMAL"
)

// AlertKey returns the activity switch key for the zero-based alert index.
func AlertKey(idx int) string {
	return fmt.Sprintf("air_alert_%d_active", idx+1)
}

// AQActiveKey returns the AQ activity flag for a level name such as "downstairs".
func AQActiveKey(levelName string) string {
	return fmt.Sprintf("air_aq_%s_active", levelName)
}

// AQRunTimer returns the AQ run-window timer key for a level name.
func AQRunTimer(levelName string) string {
	return fmt.Sprintf("air_aq_%s_run", levelName)
}

// HumidifierActiveKey returns the humidifier activity flag for a level name.
func HumidifierActiveKey(levelName string) string {
	return fmt.Sprintf("air_%s_humidifier_active", levelName)
}

func control(key string, def bool) StateVariable {
	return StateVariable{Key: key, EntityID: "input_boolean.hi_" + key, Type: TypeBool, Default: def, Control: true}
}

func flag(key string) StateVariable {
	return StateVariable{Key: key, Type: TypeBool, Default: false, LocalOnly: true}
}

func text(key, def string) StateVariable {
	return StateVariable{Key: key, Type: TypeString, Default: def, LocalOnly: true}
}

// AllVariables contains every variable the manager tracks.
var AllVariables = buildVariables()

func buildVariables() []StateVariable {
	vars := []StateVariable{
		control(KeyControlEnabled, true),
		control(KeyManualOverride, false),
		control(KeyIsolateFans, false),
		control(KeyIsolateHumidifiers, false),

		flag(KeyCOEmergencyActive),
		flag(AQActiveKey("downstairs")),
		flag(AQActiveKey("upstairs")),
		flag(HumidifierActiveKey("downstairs")),
		flag(HumidifierActiveKey("upstairs")),
	}
	for i := 0; i < MaxAlertSwitches; i++ {
		vars = append(vars, flag(AlertKey(i)))
	}
	vars = append(vars,
		text(KeyRuntimeMode, DefaultRuntimeMode),
		text(KeyRuntimeModeDisplay, DefaultRuntimeDisplay),
		text(KeyRuntimeReason, ""),
	)
	return vars
}

// VariablesByKey creates a map of variables by their key
func VariablesByKey() map[string]StateVariable {
	vars := make(map[string]StateVariable)
	for _, v := range AllVariables {
		vars[v.Key] = v
	}
	return vars
}

// ControlKeys lists the user-facing control switches.
func ControlKeys() []string {
	var keys []string
	for _, v := range AllVariables {
		if v.Control {
			keys = append(keys, v.Key)
		}
	}
	return keys
}
