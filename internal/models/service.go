package models

const (
	ServiceLicenseRenewal       = "license_renewal"
	ServiceNewLicense           = "new_license"
	ServiceVehicleRegistration  = "vehicle_registration"
	ServicePermitApplication    = "permit_application"
	ServiceDocumentVerification = "document_verification"
	ServiceGeneral              = "general"
)

var ServiceTypes = []string{
	ServiceLicenseRenewal,
	ServiceNewLicense,
	ServiceVehicleRegistration,
	ServicePermitApplication,
	ServiceDocumentVerification,
	ServiceGeneral,
}

func ValidServiceType(serviceType string) bool {
	for _, s := range ServiceTypes {
		if s == serviceType {
			return true
		}
	}
	return false
}
