package pipeline

// MobileNetSSDClasses is the label table of the 21-class MobileNet-SSD model, indexed by class id
var MobileNetSSDClasses = []string{
	"background", "aeroplane", "bicycle", "bird", "boat",
	"bottle", "bus", "car", "cat", "chair", "cow", "diningtable",
	"dog", "horse", "motorbike", "person", "pottedplant", "sheep",
	"sofa", "train", "tvmonitor",
}

// ClassName resolves a class id, returning "" when it is out of range
func ClassName(id int) string {
	if id < 0 || id >= len(MobileNetSSDClasses) {
		return ""
	}
	return MobileNetSSDClasses[id]
}
