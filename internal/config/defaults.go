package config

const (
	defaultConfigPath          = "~/.config/seisarchive/config.toml"
	defaultIncomingDir         = "~/.local/share/seisarchive/incoming"
	defaultScratchDir          = "~/.local/share/seisarchive/scratch"
	defaultStateDir            = "~/.local/share/seisarchive/state"
	defaultLogDir              = "~/.local/share/seisarchive/logs"
	defaultTrustedDir          = "~/archive/trust"
	defaultWarningDir          = "~/archive/warning"
	defaultBadDir              = "~/archive/bad"
	defaultNoAuthDir           = "~/archive/noauth"
	defaultVersionDir          = "~/archive/versions"
	defaultWorkingDir          = "~/archive/working"
	defaultPastDir             = "~/archive/past"
	defaultQuarantineTag       = ".quarantine"
	defaultRejectTag           = ".reject"
	defaultStationEndpoint     = "https://webservices.ingv.it/fdsnws/station/1/query"
	defaultStationTimeout      = 30
	defaultStationRate         = 5.0
	defaultMetadataBackend     = "sqlite"
	defaultMongoDatabase       = "wfrepo"
	defaultMetadataTimeout     = 10
	defaultHandleEndpoint      = "https://hdl.handle.net"
	defaultHandlePrefix        = "11099"
	defaultHandlePlaceholder   = "11099/FAKE-PID"
	defaultHandleTimeout       = 30
	defaultResolver            = "http://hdl.handle.net/"
	defaultWithdrawMode        = "UPDATE"
	defaultCatalogWithdrawMode = "REMOVE"
	defaultCatalogRetry        = 3
	defaultHDFSTimeout         = 120
	defaultPolicy              = "checkin"
	defaultWorkers             = 1
	defaultPollInterval        = 30
	defaultSettleSeconds       = 2
	defaultMetricsListen       = "127.0.0.1:9464"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// defaultBandRates maps the SEED band code letter to the accepted
// [min, max] sampling rate in Hz.
func defaultBandRates() map[string][]float64 {
	return map[string][]float64{
		"F": {1000, 5000},
		"G": {1000, 5000},
		"D": {250, 1000},
		"C": {250, 1000},
		"E": {80, 250},
		"H": {80, 250},
		"S": {10, 80},
		"B": {10, 80},
		"M": {1, 10},
		"L": {1, 1},
		"V": {0.1, 0.1},
		"U": {0.01, 0.01},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			IncomingDir: defaultIncomingDir,
			ScratchDir:  defaultScratchDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
		},
		Archive: Archive{
			TrustedDir:    defaultTrustedDir,
			WarningDir:    defaultWarningDir,
			BadDir:        defaultBadDir,
			NoAuthDir:     defaultNoAuthDir,
			VersionDir:    defaultVersionDir,
			WorkingDir:    defaultWorkingDir,
			PastDir:       defaultPastDir,
			QuarantineTag: defaultQuarantineTag,
			RejectTag:     defaultRejectTag,
			MoveNotCopy:   true,
			RejectLayout:  LayoutFlat,
			ScratchLayout: LayoutFlat,
			WorkingLayout: LayoutSDS,
			PastLayout:    LayoutSDS,
		},
		Checks: Checks{
			Duplicates: true,
			Tagged:     true,
		},
		Sanity: Sanity{
			AllowedTypes: []string{"D"},
			BandRates:    defaultBandRates(),
			CheckEpochs:  true,
		},
		Station: Station{
			Endpoint:          defaultStationEndpoint,
			TimeoutSeconds:    defaultStationTimeout,
			RequestsPerSecond: defaultStationRate,
		},
		Metadata: Metadata{
			Backend:        defaultMetadataBackend,
			MongoDatabase:  defaultMongoDatabase,
			TimeoutSeconds: defaultMetadataTimeout,
		},
		DublinCore: DublinCore{
			Title:        "INGV_Repository",
			Subject:      "mSEED, waveform, quality",
			Creator:      "INGV EIDA NODE",
			Publisher:    "INGV EIDA NODE",
			Type:         "seismic waveform",
			Format:       "MSEED",
			Rights:       "open access",
			IsPartOf:     "INGV_WF_Repository",
			WithdrawMode: defaultWithdrawMode,
		},
		Provenance: Provenance{
			Resolver:      defaultResolver,
			AttributedTo:  "INGV EIDA NODE",
			Usage:         "EIDA archive ingestion",
			SoftwareAgent: "seisarchive",
			SoftwareApp:   "seisarchive",
			Organization:  "INGV",
			Periodicity:   "daily",
		},
		Handle: Handle{
			Endpoint:       defaultHandleEndpoint,
			Prefix:         defaultHandlePrefix,
			Placeholder:    defaultHandlePlaceholder,
			DryRun:         true,
			TimeoutSeconds: defaultHandleTimeout,
			WithdrawMode:   defaultWithdrawMode,
		},
		HDFS: HDFS{
			TimeoutSeconds: defaultHDFSTimeout,
		},
		Catalog: Catalog{
			RetryIntervalSeconds: defaultCatalogRetry,
			WithdrawMode:         defaultCatalogWithdrawMode,
		},
		Workflow: Workflow{
			DefaultPolicy:       defaultPolicy,
			Workers:             defaultWorkers,
			PollIntervalSeconds: defaultPollInterval,
			SettleSeconds:       defaultSettleSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Halts:          true,
		},
		Metrics: Metrics{
			Listen: defaultMetricsListen,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
