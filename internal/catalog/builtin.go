package catalog

const (
	basicCaps = "LocalServices NetworkServices ReadUserData WriteUserData UserEnvironment"
	highCaps  = basicCaps + " Location WriteDeviceData ReadDeviceData SwEvent"
	devCaps   = basicCaps + " Location PowerMgmt ProtServ SwEvent SurroundingsDD" +
		" ReadDeviceData WriteDeviceData TrustedUI"
)

// SuperFlavor is configured once per platform; every other flavor is derived
// from its binaries by rewriting capabilities after linking.
const SuperFlavor = "unsigned_high_capas"

// Builtin returns the catalog the release pipeline ships with.
func Builtin() *Catalog {
	return &Catalog{
		Flavors: []Flavor{
			{Name: "unsigned_devcert", Caps: devCaps},
			{Name: "unsigned_alabs", Caps: "ALL -TCB -DRM -AllFiles", ExeCaps: basicCaps},
			{Name: "alabs_pythonteam", Caps: "ALL -TCB -DRM -AllFiles", Key: "pythonteam"},
			{Name: "selfsigned", Caps: basicCaps, Key: "selfsigned"},
			{Name: "unsigned_3_0", Caps: basicCaps, UID: "0x20022EED"},
			{Name: "unsigned_3_2", Caps: basicCaps + " Location", UID: "0x20022EEC"},
			{Name: "white_choco", Caps: "ALL -TCB", Key: "pythonteam"},
			{Name: "dark_choco", Caps: "ALL -TCB", Key: "rd02"},
			{Name: SuperFlavor, Caps: highCaps, UID: "0x20022EE9"},
			{Name: "high_capas_pythonteam", Caps: highCaps, Key: "pythonteam", UID: "0x20022EE9"},
		},
		Platforms: []Platform{
			{Name: "30armv5", Deliverables: sisDeliverables("3rdEd", "3rdEd", "Python25_3rdEd.SIS", "Python_SDK_3rdEd.zip", "Python_%s%s_SDK_3rdEd.zip")},
			{Name: "50armv5", Deliverables: sisDeliverables("5thEd", "5thEd", "Python25_5thEd.SIS", "Python_SDK_5thEd.zip", "Python_%s%s_SDK_5thEd.zip")},
			{Name: "31", Deliverables: []Deliverable{
				{Kind: KindSDKZip, Built: "Python_SDK_3rdEd.zip", Template: "Python_%s%s_SDK_3rdEdFP1.zip"},
			}},
			{Name: "32", Deliverables: sisDeliverables("3rdEdFP2", "3rdEd", "Python25_3rdEdFP2.SIS", "Python_SDK_3rdEdFP2.zip", "Python_%s%s_SDK_3rdEdFP2.zip")},
		},
		SDKs: []SDKProfile{
			{Name: "30armv5", S60Version: 30, DevicePlatform: "armv5", EmuPlatform: "winscw",
				SDKName: "S60 3rd Ed. w/ RVCT compiler", MarketingShort: "3rdEd",
				ScriptShellUID: "0x20022EED", RequiredPlatformUID: "0x101F7961"},
			{Name: "30gcce", S60Version: 30, DevicePlatform: "gcce", EmuPlatform: "winscw",
				SDKName: "S60 3rd Ed. w/ GCCE compiler", MarketingShort: "3rdEd",
				ScriptShellUID: "0x20022EED", RequiredPlatformUID: "0x101F7961"},
			{Name: "32", S60Version: 32, DevicePlatform: "armv5", EmuPlatform: "winscw",
				SDKName: "S60 3rd EdFP2 w/ RVCT compiler", MarketingShort: "3rdEdFP2",
				ScriptShellUID: "0x20022EEC", RequiredPlatformUID: "0x102752AE"},
			{Name: "32gcce", S60Version: 32, DevicePlatform: "gcce", EmuPlatform: "winscw",
				SDKName: "S60 3rd EdFP2 w/ GCCE compiler", MarketingShort: "3rdEdFP2",
				ScriptShellUID: "0x20022EEC", RequiredPlatformUID: "0x102752AE"},
			{Name: "50armv5", S60Version: 50, DevicePlatform: "armv5", EmuPlatform: "winscw",
				SDKName: "S60 5th Ed w/ RVCT compiler", MarketingShort: "5thEd",
				ScriptShellUID: "0x20022EEC", RequiredPlatformUID: "0x1028315F"},
		},
		Projects: []Project{
			{Name: "python25", Path: "newcore/symbian/group"},
			{Name: "testapp", Path: "ext/test/testapp/group"},
			{Name: "run_testapp", Path: "ext/test/run_testapp/group", Internal: true},
			{Name: "run-interpretertimer", Path: "ext/test/run-interpretertimer/group", Internal: true},
			{Name: "interpreter-startup", Path: "ext/test/interpreter-startup/group", Internal: true},
		},
	}
}

// sisDeliverables builds the deliverable list shared by the SIS producing
// platforms. builtTag is the suffix the toolchain appends; nameTag is the one
// used in release names.
func sisDeliverables(builtTag, nameTag, pythonBuilt, sdkBuilt, sdkTemplate string) []Deliverable {
	test := func(kind Kind, name string) Deliverable {
		return Deliverable{
			Kind:      kind,
			Built:     name + "_" + builtTag + ".SIS",
			Template:  name + "_%s%s_" + nameTag + "_%s.sis",
			SourceDir: "ext/test/" + name + "/group",
			Test:      true,
		}
	}
	return []Deliverable{
		{Kind: KindPythonSIS, Built: pythonBuilt, Template: "Python_%s%s_" + nameTag + "_%s.sis", SourceDir: "newcore/symbian/group"},
		test(KindTestappSIS, "testapp"),
		test(KindRunTestappSIS, "run_testapp"),
		test(KindInterpreterTimerSIS, "run-interpretertimer"),
		test(KindInterpreterStartSIS, "interpreter-startup"),
		{Kind: KindSDKZip, Built: sdkBuilt, Template: sdkTemplate},
	}
}
