package gpu

import (
	"context"
	"testing"
)

const sampleSMIOutput = `<?xml version="1.0" ?>
<nvidia_smi_log>
	<driver_version>550.54.14</driver_version>
	<gpu id="00000000:01:00.0">
		<product_name>NVIDIA GeForce RTX 4070</product_name>
		<product_architecture>Ada Lovelace</product_architecture>
		<fb_memory_usage>
			<total>12282 MiB</total>
			<used>512 MiB</used>
		</fb_memory_usage>
	</gpu>
</nvidia_smi_log>`

func TestParseSMI(t *testing.T) {
	adapter, err := parseSMI([]byte(sampleSMIOutput))
	if err != nil {
		t.Fatalf("parseSMI returned error: %v", err)
	}

	if !adapter.Available {
		t.Fatal("expected adapter to be available")
	}
	if adapter.Vendor != "NVIDIA" {
		t.Errorf("expected vendor NVIDIA, got %q", adapter.Vendor)
	}
	if adapter.Renderer != "NVIDIA GeForce RTX 4070" {
		t.Errorf("unexpected renderer %q", adapter.Renderer)
	}
	if adapter.Architecture != "Ada Lovelace" {
		t.Errorf("unexpected architecture %q", adapter.Architecture)
	}
	if adapter.VRAMMB != 12282 {
		t.Errorf("expected 12282 MiB, got %v", adapter.VRAMMB)
	}
	if adapter.Source != "nvidia-smi" {
		t.Errorf("unexpected source %q", adapter.Source)
	}
}

func TestParseSMI_NoGPUs(t *testing.T) {
	adapter, err := parseSMI([]byte(`<nvidia_smi_log><driver_version>550</driver_version></nvidia_smi_log>`))
	if err != nil {
		t.Fatalf("parseSMI returned error: %v", err)
	}
	if adapter.Available {
		t.Error("expected unavailable adapter for empty GPU list")
	}
	if adapter.Reason == "" {
		t.Error("expected a reason for the empty GPU list")
	}
}

func TestParseSMI_Malformed(t *testing.T) {
	if _, err := parseSMI([]byte("not xml at all")); err == nil {
		t.Error("expected error for malformed XML")
	}
}

func TestParseMiBFloat(t *testing.T) {
	cases := []struct {
		input    string
		expected float64
	}{
		{"12282 MiB", 12282},
		{"512MiB", 512},
		{"1024", 1024},
		{"N/A", 0},
		{"", 0},
	}

	for _, tc := range cases {
		if got := parseMiBFloat(tc.input); got != tc.expected {
			t.Errorf("parseMiBFloat(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestParseLspciVGA(t *testing.T) {
	nvidiaOut := `00:1f.4 SMBus [0c05]: Intel Corporation Device [8086:7aa3] (rev 11)
01:00.0 VGA compatible controller [0300]: NVIDIA Corporation AD104 [GeForce RTX 4070] [10de:2786] (rev a1)
02:00.0 Ethernet controller [0200]: Realtek Semiconductor Co., Ltd. Device [10ec:8125]`

	vendor, renderer, ok := parseLspciVGA(nvidiaOut)
	if !ok {
		t.Fatal("expected a display controller to be found")
	}
	if vendor != "NVIDIA" {
		t.Errorf("expected vendor NVIDIA, got %q", vendor)
	}
	if renderer != "NVIDIA Corporation AD104 [GeForce RTX 4070] [10de:2786] (rev a1)" {
		t.Errorf("unexpected renderer %q", renderer)
	}

	amdOut := `03:00.0 Display controller [0380]: Advanced Micro Devices, Inc. [AMD/ATI] Navi 33 [1002:7480]`
	vendor, _, ok = parseLspciVGA(amdOut)
	if !ok || vendor != "AMD" {
		t.Errorf("expected AMD display controller, got (%q, %v)", vendor, ok)
	}

	if _, _, ok := parseLspciVGA("00:00.0 Host bridge: Intel Corporation Device"); ok {
		t.Error("expected no display controller in bridge-only output")
	}
}

func TestDetect_NeverErrors(t *testing.T) {
	adapter := Detect(context.Background())
	if adapter.Available {
		if adapter.Source == "" {
			t.Error("available adapter must name its source")
		}
	} else if adapter.Reason == "" {
		t.Error("unavailable adapter must carry a reason")
	}
}
