package environment

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/litmuschaos/litmus-qos/pkg/log"
	"github.com/litmuschaos/litmus-qos/pkg/policy"
	experimentTypes "github.com/litmuschaos/litmus-qos/pkg/qos/types"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

//GetENV fetches all the env variables, falling back to the defaults of the original bench
func GetENV(experimentDetails *experimentTypes.ExperimentDetails, expName string) {
	experimentDetails.ExperimentName = expName
	experimentDetails.PolicyID = getInt("POLICY_ID", 0)
	experimentDetails.MaxPolicyID = getInt("MAX_POLICY_ID", policy.MaxPolicyID)
	experimentDetails.Backend = Getenv("SHAPING_BACKEND", "tc")
	experimentDetails.Marking = types.Marking(Getenv("MARKING_STAGE", string(types.MarkingEgress)))
	experimentDetails.Interface.Host = Getenv("BOTTLENECK_HOST", "s1")
	experimentDetails.Interface.Name = Getenv("BOTTLENECK_INTERFACE", "s1-eth3")
	experimentDetails.Hosts = parseHosts(Getenv("HOST_NAMESPACES", ""))
	experimentDetails.WorkDir = Getenv("WORK_DIR", "/tmp/qosbench")
	experimentDetails.ResultsDir = Getenv("RESULTS_DIR", "results")
	experimentDetails.NetworkShutdownCommand = strings.Fields(Getenv("NETWORK_SHUTDOWN_COMMAND", ""))

	experimentDetails.SettleInterval = getDuration("SETTLE_INTERVAL", 2*time.Second)
	experimentDetails.WarmupInterval = getDuration("WARMUP_INTERVAL", 10*time.Second)
	experimentDetails.GeneratorDuration = getDuration("GENERATOR_DURATION", 20*time.Second)
	experimentDetails.ObservationWindow = getDuration("OBSERVATION_WINDOW", 40*time.Second)
	experimentDetails.CoolDownInterval = getDuration("COOLDOWN_INTERVAL", 5*time.Second)
	experimentDetails.StopGracePeriod = getDuration("STOP_GRACE_PERIOD", 5*time.Second)

	experimentDetails.Media.SenderHost = Getenv("MEDIA_SENDER_HOST", "h1")
	experimentDetails.Media.ReceiverHost = Getenv("MEDIA_RECEIVER_HOST", "h2")
	experimentDetails.Media.ReceiverAddr = Getenv("MEDIA_RECEIVER_ADDR", "10.0.0.2")
	experimentDetails.Media.VideoFile = Getenv("MEDIA_VIDEO_FILE", "video.mp4")
	experimentDetails.Media.SDPFile = Getenv("MEDIA_SDP_FILE", "video.sdp")
	experimentDetails.Media.VideoPort = getInt("MEDIA_VIDEO_PORT", policy.VideoPort)
	experimentDetails.Media.AudioPort = getInt("MEDIA_AUDIO_PORT", policy.AudioPort)
	experimentDetails.Media.PacketSize = getInt("MEDIA_PACKET_SIZE", 1200)
	experimentDetails.Media.Player = getBool("MEDIA_PLAYER", true)

	experimentDetails.Capture.Enabled = getBool("CAPTURE_ENABLED", true)
	experimentDetails.Capture.Interface = Getenv("CAPTURE_INTERFACE", "h2-eth0")
	experimentDetails.Capture.ExportTrace = getBool("CAPTURE_EXPORT_TRACE", true)

	experimentDetails.Monitor.IntervalSeconds = getFloat("MONITOR_INTERVAL", 0.5)

	experimentDetails.Generators.Host = Getenv("GENERATOR_HOST", "h3")
	experimentDetails.Generators.Target = Getenv("GENERATOR_TARGET", "10.0.0.4")
	experimentDetails.Generators.Count = getInt("GENERATOR_COUNT", 3)
	experimentDetails.Generators.Bandwidth = Getenv("GENERATOR_BANDWIDTH", "3M")
	experimentDetails.Generators.Port = getInt("GENERATOR_PORT", policy.BulkPort)

	experimentDetails.Trace.SeqField = Getenv("TRACE_SEQ_FIELD", "rtp.seq")
	experimentDetails.Trace.TimeField = Getenv("TRACE_TIME_FIELD", "frame.time_relative")

	experimentDetails.OTELEndpoint = Getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	experimentDetails.LogLevel = Getenv("LOG_LEVEL", "info")
}

// Getenv fetch the env and set the default value, if any
func Getenv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return value
}

// The typed getters keep the default when the value does not parse

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(Getenv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		log.Warnf("[PreReq]: Ignoring %s, using %d, err: %v", key, defaultValue, err)
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(Getenv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		log.Warnf("[PreReq]: Ignoring %s, using %t, err: %v", key, defaultValue, err)
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(Getenv(key, strconv.FormatFloat(defaultValue, 'f', -1, 64)), 64)
	if err != nil {
		log.Warnf("[PreReq]: Ignoring %s, using %v, err: %v", key, defaultValue, err)
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(Getenv(key, defaultValue.String()))
	if err != nil {
		log.Warnf("[PreReq]: Ignoring %s, using %v, err: %v", key, defaultValue, err)
		return defaultValue
	}
	return d
}

// parseHosts reads 'h1=4242,h2=netns:h2ns' into host namespace details
func parseHosts(value string) map[string]experimentTypes.HostDetails {
	hosts := map[string]experimentTypes.HostDetails{}
	for _, entry := range strings.Split(value, ",") {
		kv := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		if strings.HasPrefix(kv[1], "netns:") {
			hosts[kv[0]] = experimentTypes.HostDetails{Netns: strings.TrimPrefix(kv[1], "netns:")}
			continue
		}
		pid, err := strconv.Atoi(kv[1])
		if err != nil {
			continue
		}
		hosts[kv[0]] = experimentTypes.HostDetails{PID: pid}
	}
	return hosts
}

// LoadFile overlays the keys present in the given yaml file on top of the env derived details
func LoadFile(path string, experimentDetails *experimentTypes.ExperimentDetails) error {
	c, err := os.ReadFile(path)
	if err != nil {
		return errors.Errorf("unable to read the config file %s, err: %v", path, err)
	}
	if err := yaml.Unmarshal(c, experimentDetails); err != nil {
		return errors.Errorf("unable to parse the config file %s, err: %v", path, err)
	}
	return nil
}

// Validate checks the details needed by every run, the policy id is checked by the catalog
func Validate(experimentDetails *experimentTypes.ExperimentDetails) error {
	if experimentDetails.Interface.Name == "" {
		return errors.New("bottleneck interface name can't be empty")
	}
	if experimentDetails.Backend != "tc" && experimentDetails.Backend != "netlink" {
		return errors.Errorf("unsupported shaping backend '%s', use 'tc' or 'netlink'", experimentDetails.Backend)
	}
	if experimentDetails.Marking != types.MarkingEgress && experimentDetails.Marking != types.MarkingNetfilter {
		return errors.Errorf("unsupported marking stage '%s', use 'egress' or 'netfilter'", experimentDetails.Marking)
	}
	if experimentDetails.WorkDir == "" || experimentDetails.ResultsDir == "" {
		return errors.New("work and results directories can't be empty")
	}
	if experimentDetails.Generators.Count < 0 {
		return errors.Errorf("generator count can't be negative, got %d", experimentDetails.Generators.Count)
	}
	for name, d := range map[string]time.Duration{
		"settle interval":    experimentDetails.SettleInterval,
		"warmup interval":    experimentDetails.WarmupInterval,
		"generator duration": experimentDetails.GeneratorDuration,
		"observation window": experimentDetails.ObservationWindow,
	} {
		if d < 0 {
			return errors.Errorf("%s can't be negative, got %v", name, d)
		}
	}
	if experimentDetails.ObservationWindow < experimentDetails.GeneratorDuration {
		return errors.Errorf("observation window %v must exceed the generator duration %v", experimentDetails.ObservationWindow, experimentDetails.GeneratorDuration)
	}
	return nil
}
