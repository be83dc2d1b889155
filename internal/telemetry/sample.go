package telemetry

func intPtr(v int) *int { return &v }

// Sample returns the built-in demo tables of the STM32WB55 intrusion sensor.
func Sample() *Snapshot {
	return &Snapshot{
		Runtime: Runtime{
			WatchdogWindowMs: 1500,
			BLERSSI:          "-62dBm",
		},
		Registers: Registers{
			R0:   "0x20001A4C",
			R1:   "0x00000000",
			R2:   "0x0800F3A1",
			R3:   "0x00000001",
			R12:  "0xA5A5A5A5",
			SP:   "0x20003F88",
			LR:   "0x08004C2B",
			PC:   "0x08004C40",
			XPSR: "0x61000000",
			CFSR: "0x00008200",
			HFSR: "0x40000000",
			BFAR: "0x2000FFF0",
		},
		Tasks: []Task{
			{
				ID:               "1",
				Name:             "ble-link-handler",
				State:            "running",
				Priority:         intPtr(5),
				FaultReason:      "BLE link supervision timeout",
				PC:               "0x08004C40",
				LR:               "0x08004C2B",
				SP:               "0x20003F88",
				StackUsed:        352,
				StackTotal:       512,
				HighWaterMark:    intPtr(160),
				LastBlockingCall: "xQueueReceive",
				Backtrace: []string{
					"ble_link_handler_task+0x40",
					"hci_event_dispatch+0x1c",
					"prvTaskExitError",
				},
			},
			{
				ID:               "2",
				Name:             "intrusion-monitor-task",
				State:            "waiting",
				Priority:         intPtr(4),
				FaultReason:      "none",
				PC:               "0x08006210",
				LR:               "0x080061F3",
				SP:               "0x20004A10",
				StackUsed:        198,
				StackTotal:       384,
				HighWaterMark:    intPtr(186),
				LastBlockingCall: "xSemaphoreTake",
				Backtrace: []string{
					"intrusion_monitor_task+0x88",
					"reed_switch_poll+0x12",
				},
			},
			{
				ID:          "3",
				Name:        "stm32-watchdog",
				State:       "stopped",
				Priority:    intPtr(7),
				FaultReason: "IWDG reload missed",
				PC:          "0x08001100",
			},
		},
		Steps: []Step{
			{Offset: "3s", Name: "boot", Result: "ok"},
			{Offset: "2s", Name: "ble_handshake", Result: "ok"},
			{Offset: "1s", Name: "intrusion_detect", Result: "trip"},
			{Offset: "200ms", Name: "watchdog", Result: "reset"},
		},
		Events: []Event{
			{Offset: "3s", Label: "system_start", Detail: "cold boot after power-on reset", Source: "bootloader"},
			{Offset: "2s", Label: "ble_handshake_success", Detail: "paired with garage hub", Source: "ble-link-handler"},
			{Offset: "1s", Label: "intrusion_detected", Detail: "reed switch opened while armed", Source: "intrusion-monitor-task"},
			{Offset: "200ms", Label: "watchdog_reset", Detail: "IWDG expired before reload", Source: "stm32-watchdog"},
		},
	}
}
