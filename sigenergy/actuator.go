package sigenergy

import "fmt"

// Remote EMS control modes, register 40031 (Section 5.2).
const (
	modeStandby           = 1
	modeChargeGridFirst   = 3
	modeDischargeESSFirst = 6
)

// InitialSOCFraction reads the plant's current state of charge as a
// fraction in [0,1], the value battery.NewState needs to seed a window.
func (c *SigenModbusClient) InitialSOCFraction() (float64, error) {
	info, err := c.ReadPlantRunningInfo()
	if err != nil {
		return 0, fmt.Errorf("sigenergy: reading SOC: %w", err)
	}
	return info.ESSSOC / 100.0, nil
}

// ApplyDispatch pushes one committed step's charge/discharge setpoint to
// the plant over remote EMS control. Exactly one of chargeKW/dischargeKW
// is expected to be non-zero, matching dispatch.OptimizationResult's
// PCharge/PDischarge split; a positive ActivePowerFixed target charges the
// battery, a negative one discharges it (Section 5.2).
func (c *SigenModbusClient) ApplyDispatch(chargeKW, dischargeKW float64) error {
	if chargeKW < 0 || dischargeKW < 0 {
		return fmt.Errorf("sigenergy: charge/discharge setpoints must be non-negative, got %v/%v", chargeKW, dischargeKW)
	}
	if chargeKW > 0 && dischargeKW > 0 {
		return fmt.Errorf("sigenergy: charge and discharge setpoints both non-zero (%v/%v)", chargeKW, dischargeKW)
	}

	if err := c.EnableRemoteEMS(true); err != nil {
		return fmt.Errorf("sigenergy: enabling remote EMS: %w", err)
	}

	switch {
	case chargeKW > 0:
		if err := c.SetRemoteEMSMode(modeChargeGridFirst); err != nil {
			return fmt.Errorf("sigenergy: setting charge mode: %w", err)
		}
		return c.SetActivePowerFixed(chargeKW)
	case dischargeKW > 0:
		if err := c.SetRemoteEMSMode(modeDischargeESSFirst); err != nil {
			return fmt.Errorf("sigenergy: setting discharge mode: %w", err)
		}
		return c.SetActivePowerFixed(-dischargeKW)
	default:
		if err := c.SetRemoteEMSMode(modeStandby); err != nil {
			return fmt.Errorf("sigenergy: setting standby mode: %w", err)
		}
		return c.SetActivePowerFixed(0)
	}
}
